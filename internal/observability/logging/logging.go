// Package logging emits structured JSON logs with PII redaction applied to
// every string value before it reaches the sink.
package logging

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
)

const serviceName = "fnol-observability-api"

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ccPattern    = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

// MaskPII replaces email addresses, SSNs, phone numbers and credit-card-like
// sequences with redaction markers. Claim emails are full of all four.
func MaskPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL_REDACTED]")
	text = ssnPattern.ReplaceAllString(text, "[SSN_REDACTED]")
	text = phonePattern.ReplaceAllString(text, "[PHONE_REDACTED]")
	text = ccPattern.ReplaceAllString(text, "[CC_REDACTED]")
	return text
}

// New builds the service logger: JSON lines to w, leveled, every string
// attribute and message passed through MaskPII, service name on each record.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(MaskPII(a.Value.String()))
			}
			return a
		},
	})
	return slog.New(handler).With("service", serviceName)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
