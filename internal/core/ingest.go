package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fnol-observability-api/internal/observability/metrics"
	"fnol-observability-api/internal/store"
)

// ParsedEmail is the inbound ingestion payload, as produced by the upstream
// email parser.
type ParsedEmail struct {
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Attachments []string   `json:"attachments"`
	Sender      *string    `json:"sender,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	To          []string   `json:"to,omitempty"`
	Cc          []string   `json:"cc,omitempty"`
}

type IngestResult struct {
	Status          string         `json:"status"`
	FNOLID          string         `json:"fnol_id"`
	ExtractedFields map[string]any `json:"extracted_fields"`
}

// IngestService orchestrates receive -> extract -> persist as one logical
// operation. There is no retry and no compensating action: an insert failure
// after successful extraction is reported as ingestion failure and the
// extracted data is dropped.
type IngestService struct {
	store      *store.Store
	extractor  FieldExtractor
	logger     *slog.Logger
	llmTimeout time.Duration
	now        func() time.Time
}

func NewIngestService(st *store.Store, extractor FieldExtractor, logger *slog.Logger, llmTimeout time.Duration) *IngestService {
	return &IngestService{
		store:      st,
		extractor:  extractor,
		logger:     logger,
		llmTimeout: llmTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *IngestService) Ingest(ctx context.Context, email ParsedEmail) (IngestResult, error) {
	if email.Subject == "" || email.Body == "" {
		return IngestResult{}, fmt.Errorf("%w: subject and body are required", ErrValidation)
	}

	metrics.IncActiveFNOLs()
	defer metrics.DecActiveFNOLs()

	started := s.now()

	extractCtx := ctx
	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}

	extractStart := s.now()
	extraction, err := s.extractor.Extract(extractCtx, email.Body)
	if err != nil {
		code := errorCode(err)
		metrics.RecordFNOLFailure(store.StageLLMExtraction, code)
		s.logger.Error("fnol extraction failed",
			"stage", store.StageLLMExtraction,
			"error_code", code,
			"error", err.Error(),
		)
		return IngestResult{}, err
	}
	extractEnd := s.now()

	tel := s.buildTelemetry(started, extractStart, extractEnd, extraction)

	rec := store.EmailIntake{
		Subject:         email.Subject,
		Body:            email.Body,
		Attachments:     email.Attachments,
		Sender:          email.Sender,
		ReceivedAt:      email.ReceivedAt,
		ExtractedFields: extraction.Fields,
	}

	_, fnolID, err := s.store.InsertIngestion(ctx, rec, tel)
	if err != nil {
		metrics.RecordFNOLFailure(store.StageEmailIngestion, "STORE_ERROR")
		s.logger.Error("fnol persistence failed",
			"stage", store.StageEmailIngestion,
			"error", err.Error(),
		)
		return IngestResult{}, fmt.Errorf("failed to persist ingested fnol: %w", err)
	}

	totalMs := float64(s.now().Sub(started).Milliseconds())
	metrics.RecordFNOLDuration(tel.Trace.Status, totalMs)
	metrics.RecordLLMTokens(extraction.ModelName, store.StageLLMExtraction, extraction.PromptTokens, extraction.CompletionTokens)
	metrics.RecordLLMCost(extraction.ModelName, store.StageLLMExtraction, extraction.CostUSD())
	metrics.RecordLLMLatency(extraction.ModelName, store.StageLLMExtraction, float64(extraction.LatencyMs))

	s.logger.Info("fnol ingested",
		"fnol_id", fnolID,
		"status", tel.Trace.Status,
		"model_name", extraction.ModelName,
		"total_tokens", extraction.TotalTokens,
		"raw_fallback", extraction.RawFallback,
	)

	return IngestResult{
		Status:          "success",
		FNOLID:          fnolID,
		ExtractedFields: extraction.Fields,
	}, nil
}

// buildTelemetry assembles the trace, stage executions and metric row for a
// completed extraction. A raw-response fallback degrades the trace to
// PARTIAL with LLM_EXTRACTION as the failure stage; the stage itself stays
// SUCCESS since the pipeline carried on.
func (s *IngestService) buildTelemetry(started, extractStart, extractEnd time.Time, extraction Extraction) store.IngestTelemetry {
	end := s.now()
	totalMs := end.Sub(started).Milliseconds()

	trace := store.Trace{
		Status:          store.StatusSuccess,
		StartTime:       started,
		EndTime:         &end,
		TotalDurationMs: &totalMs,
	}

	ingestMs := extractStart.Sub(started).Milliseconds()
	ingestStage := store.StageExecution{
		StageName:  store.StageEmailIngestion,
		Status:     store.StageSuccess,
		StartTime:  started,
		EndTime:    &extractStart,
		DurationMs: &ingestMs,
	}

	extractMs := extraction.LatencyMs
	extractStage := store.StageExecution{
		StageName:  store.StageLLMExtraction,
		Status:     store.StageSuccess,
		StartTime:  extractStart,
		EndTime:    &extractEnd,
		DurationMs: &extractMs,
	}

	if extraction.RawFallback {
		failureStage := store.StageLLMExtraction
		trace.Status = store.StatusPartial
		trace.FailureStage = &failureStage

		code := "PARSE_ERROR"
		msg := "model output was not valid JSON, raw response stored"
		extractStage.ErrorCode = &code
		extractStage.ErrorMessage = &msg
	}

	temp := extraction.Temperature
	metric := store.LLMMetric{
		StageName:        store.StageLLMExtraction,
		ModelName:        extraction.ModelName,
		PromptVersion:    extraction.PromptVersion,
		PromptHash:       extraction.PromptHash,
		PromptTokens:     extraction.PromptTokens,
		CompletionTokens: extraction.CompletionTokens,
		TotalTokens:      extraction.TotalTokens,
		CostUSD:          extraction.CostUSD(),
		LatencyMs:        extraction.LatencyMs,
		Temperature:      &temp,
	}

	return store.IngestTelemetry{
		Trace:   trace,
		Stages:  []store.StageExecution{ingestStage, extractStage},
		Metrics: []store.LLMMetric{metric},
	}
}

func errorCode(err error) string {
	if errors.Is(err, ErrTimeout) {
		return "TIMEOUT_ERROR"
	}
	return "NETWORK_ERROR"
}
