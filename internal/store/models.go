package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidFNOLID = errors.New("invalid fnol id format")
)

// FNOLIDPrefix is prepended to the email_intake row id to form the externally
// visible identifier, e.g. EMAIL-42.
const FNOLIDPrefix = "EMAIL-"

// Trace statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusPartial = "PARTIAL"
)

// Stage statuses.
const (
	StageSuccess = "SUCCESS"
	StageFailed  = "FAILED"
	StageSkipped = "SKIPPED"
)

// Pipeline stage names, in processing order.
const (
	StageEmailIngestion    = "EMAIL_INGESTION"
	StageAttachmentParsing = "ATTACHMENT_PARSING"
	StageOCRProcessing     = "OCR_PROCESSING"
	StageLLMExtraction     = "LLM_EXTRACTION"
	StageValidation        = "VALIDATION"
	StageS3Storage         = "S3_STORAGE"
	StageGuidewirePush     = "GUIDEWIRE_PUSH"
)

// PipelineStages lists valid stage names in order.
var PipelineStages = []string{
	StageEmailIngestion,
	StageAttachmentParsing,
	StageOCRProcessing,
	StageLLMExtraction,
	StageValidation,
	StageS3Storage,
	StageGuidewirePush,
}

// EmailIntake is the durable claim record: one ingested FNOL email.
// Rows are created exactly once and never updated.
type EmailIntake struct {
	ID              int64          `json:"id"`
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	Attachments     []string       `json:"attachments"`
	Sender          *string        `json:"sender"`
	ReceivedAt      *time.Time     `json:"received_at"`
	ExtractedFields map[string]any `json:"extracted_fields"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EmailListRow is the partial projection returned by ListEmails, joined with
// the record's trace when one exists.
type EmailListRow struct {
	ID              int64
	Subject         string
	Sender          *string
	ReceivedAt      *time.Time
	Status          string
	TotalDurationMs *int64
	FailureStage    *string
}

type Trace struct {
	FNOLID          string     `json:"fnol_id"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalDurationMs *int64     `json:"total_duration_ms"`
	FailureStage    *string    `json:"failure_stage,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type StageExecution struct {
	ID           string     `json:"id"`
	FNOLID       string     `json:"fnol_id"`
	StageName    string     `json:"stage_name"`
	Status       string     `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	DurationMs   *int64     `json:"duration_ms"`
	ErrorCode    *string    `json:"error_code"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
}

type LLMMetric struct {
	ID               string    `json:"id"`
	FNOLID           string    `json:"fnol_id"`
	StageName        string    `json:"stage_name"`
	ModelName        string    `json:"model_name"`
	PromptVersion    string    `json:"prompt_version"`
	PromptHash       string    `json:"prompt_hash"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	Temperature      *float64  `json:"temperature"`
	CreatedAt        time.Time `json:"created_at"`
}

// IngestTelemetry bundles the processing telemetry written alongside a new
// email row. FNOLID fields are stamped by the store once the row id is known.
type IngestTelemetry struct {
	Trace   Trace
	Stages  []StageExecution
	Metrics []LLMMetric
}

// FormatFNOLID derives the display identifier for a stored row id.
func FormatFNOLID(id int64) string {
	return fmt.Sprintf("%s%d", FNOLIDPrefix, id)
}

// ParseFNOLID reverses FormatFNOLID. A string that does not match the
// prefix+integer shape yields ErrInvalidFNOLID, which callers must keep
// distinct from ErrNotFound.
func ParseFNOLID(fnolID string) (int64, error) {
	raw, ok := strings.CutPrefix(fnolID, FNOLIDPrefix)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFNOLID, fnolID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFNOLID, fnolID)
	}
	return id, nil
}
