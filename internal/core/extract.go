package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	promptVersion = "v1.0"

	extractionTemperature = float32(0.2)

	fnolPrompt = `
Extract the following FNOL claim fields from the email and respond with a JSON object:
- claim_number
- policy_holder
- incident_date
- loss_description

Email Body:
%s
`
)

// promptHash identifies the prompt template version in stored metrics.
var promptHash = func() string {
	sum := sha256.Sum256([]byte(fnolPrompt))
	return hex.EncodeToString(sum[:8])
}()

// Extraction is the outcome of one model call: the field mapping plus the
// usage figures recorded into llm_metrics.
type Extraction struct {
	Fields           map[string]any
	RawFallback      bool
	ModelName        string
	PromptVersion    string
	PromptHash       string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	LatencyMs        int64
	Temperature      float64
}

// CostUSD prices the call from the per-model token rates.
func (e Extraction) CostUSD() float64 {
	return tokenCostUSD(e.ModelName, e.PromptTokens, e.CompletionTokens)
}

// FieldExtractor turns raw email text into a mapping of claim fields.
type FieldExtractor interface {
	Extract(ctx context.Context, emailBody string) (Extraction, error)
}

// USD per one million tokens (prompt, completion). Unknown models price at
// the flash rate.
var modelPricing = map[string][2]float64{
	"gemini-2.5-flash": {0.30, 2.50},
	"gemini-2.5-pro":   {1.25, 10.00},
	"gemini-1.5-flash": {0.075, 0.30},
	"gemini-1.5-pro":   {1.25, 5.00},
}

func tokenCostUSD(modelName string, promptTokens, completionTokens int64) float64 {
	rates, ok := modelPricing[modelName]
	if !ok {
		rates = modelPricing["gemini-2.5-flash"]
	}
	return float64(promptTokens)/1e6*rates[0] + float64(completionTokens)/1e6*rates[1]
}

// GeminiExtractor implements FieldExtractor against the Gemini API.
type GeminiExtractor struct {
	client    *genai.Client
	modelName string
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiExtractor{client: client, modelName: modelName}, nil
}

func (e *GeminiExtractor) Close() {
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

// Extract calls the model synchronously. Transport and service failures come
// back as ErrExtraction (or ErrTimeout when the deadline expired); output
// that is not valid JSON becomes the {"raw_response": ...} fallback so data
// is never thrown away.
func (e *GeminiExtractor) Extract(ctx context.Context, emailBody string) (Extraction, error) {
	model := e.client.GenerativeModel(e.modelName)

	temp := extractionTemperature
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: &temp,
	}

	prompt := fmt.Sprintf(fnolPrompt, emailBody)

	started := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	latency := time.Since(started).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Extraction{}, fmt.Errorf("gemini generate content: %w", ErrTimeout)
		}
		return Extraction{}, fmt.Errorf("%w: gemini generate content: %v", ErrExtraction, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	fields, fallback := parseExtraction(text)

	out := Extraction{
		Fields:        fields,
		RawFallback:   fallback,
		ModelName:     e.modelName,
		PromptVersion: promptVersion,
		PromptHash:    promptHash,
		LatencyMs:     latency,
		Temperature:   float64(extractionTemperature),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		out.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("model response contained no text parts")
	}
	return b.String(), nil
}

// parseExtraction parses model output as a JSON object. Output that fails to
// parse is preserved verbatim under raw_response rather than dropped.
func parseExtraction(text string) (map[string]any, bool) {
	candidate := stripCodeFences(text)

	var fields map[string]any
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil || fields == nil {
		return map[string]any{"raw_response": text}, true
	}
	return fields, false
}

// stripCodeFences unwraps a ```json ... ``` block if the model added one.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. "json".
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
