package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"fnol-observability-api/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExtractor struct {
	fields   map[string]any
	fallback bool
	err      error
}

func (s stubExtractor) Extract(_ context.Context, _ string) (Extraction, error) {
	if s.err != nil {
		return Extraction{}, s.err
	}
	return Extraction{
		Fields:           s.fields,
		RawFallback:      s.fallback,
		ModelName:        "gemini-2.5-flash",
		PromptVersion:    promptVersion,
		PromptHash:       promptHash,
		PromptTokens:     500,
		CompletionTokens: 200,
		TotalTokens:      700,
		LatencyMs:        12,
		Temperature:      0.2,
	}, nil
}

func TestIngestHappyPath(t *testing.T) {
	st := newTestStore(t)
	svc := NewIngestService(st, stubExtractor{fields: map[string]any{"claim_number": "ABC123"}}, testLogger(), time.Second)

	result, err := svc.Ingest(context.Background(), ParsedEmail{
		Subject:     "Accident",
		Body:        "Policy ABC123, incident 2024-01-01",
		Attachments: []string{},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q", result.Status)
	}
	if result.ExtractedFields["claim_number"] != "ABC123" {
		t.Errorf("extracted fields not echoed: %v", result.ExtractedFields)
	}

	// Exactly one record, and a SUCCESS trace with stage telemetry.
	total, err := st.Count(context.Background())
	if err != nil || total != 1 {
		t.Fatalf("count = %d, err = %v", total, err)
	}
	trace, err := st.GetTrace(context.Background(), result.FNOLID)
	if err != nil || trace == nil {
		t.Fatalf("GetTrace: %v, %v", trace, err)
	}
	if trace.Status != store.StatusSuccess {
		t.Errorf("trace status = %q", trace.Status)
	}
	stages, err := st.ListStageExecutions(context.Background(), result.FNOLID)
	if err != nil || len(stages) != 2 {
		t.Fatalf("stages = %v, err = %v", stages, err)
	}
	metrics, err := st.ListLLMMetrics(context.Background(), result.FNOLID)
	if err != nil || len(metrics) != 1 {
		t.Fatalf("metrics = %v, err = %v", metrics, err)
	}
	if metrics[0].TotalTokens != 700 || metrics[0].ModelName != "gemini-2.5-flash" {
		t.Errorf("metric row mismatch: %+v", metrics[0])
	}
}

func TestIngestValidationRequiresSubjectAndBody(t *testing.T) {
	st := newTestStore(t)
	svc := NewIngestService(st, stubExtractor{fields: map[string]any{}}, testLogger(), time.Second)

	for _, payload := range []ParsedEmail{
		{Body: "only body"},
		{Subject: "only subject"},
		{},
	} {
		_, err := svc.Ingest(context.Background(), payload)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("payload %+v: want ErrValidation, got %v", payload, err)
		}
	}

	if total, _ := st.Count(context.Background()); total != 0 {
		t.Errorf("validation failures must not write, count = %d", total)
	}
}

func TestIngestExtractionFailureLeavesNoRecord(t *testing.T) {
	st := newTestStore(t)
	extractErr := fmt.Errorf("%w: model unavailable", ErrExtraction)
	svc := NewIngestService(st, stubExtractor{err: extractErr}, testLogger(), time.Second)

	_, err := svc.Ingest(context.Background(), ParsedEmail{Subject: "s", Body: "b"})
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("want ErrExtraction, got %v", err)
	}
	if total, _ := st.Count(context.Background()); total != 0 {
		t.Errorf("extraction failure must not leave an orphaned record, count = %d", total)
	}
}

func TestIngestTimeoutSurfaced(t *testing.T) {
	st := newTestStore(t)
	svc := NewIngestService(st, stubExtractor{err: fmt.Errorf("gemini: %w", ErrTimeout)}, testLogger(), time.Second)

	_, err := svc.Ingest(context.Background(), ParsedEmail{Subject: "s", Body: "b"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestIngestRawFallbackIsPartialNotError(t *testing.T) {
	st := newTestStore(t)
	svc := NewIngestService(st, stubExtractor{
		fields:   map[string]any{"raw_response": "not json"},
		fallback: true,
	}, testLogger(), time.Second)

	result, err := svc.Ingest(context.Background(), ParsedEmail{Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("fallback must not fail ingestion: %v", err)
	}
	if result.ExtractedFields["raw_response"] != "not json" {
		t.Errorf("raw response dropped: %v", result.ExtractedFields)
	}

	trace, err := st.GetTrace(context.Background(), result.FNOLID)
	if err != nil || trace == nil {
		t.Fatalf("GetTrace: %v, %v", trace, err)
	}
	if trace.Status != store.StatusPartial {
		t.Errorf("fallback trace status = %q, want PARTIAL", trace.Status)
	}
	if trace.FailureStage == nil || *trace.FailureStage != store.StageLLMExtraction {
		t.Errorf("failure stage = %v", trace.FailureStage)
	}

	stages, _ := st.ListStageExecutions(context.Background(), result.FNOLID)
	var extraction *store.StageExecution
	for i := range stages {
		if stages[i].StageName == store.StageLLMExtraction {
			extraction = &stages[i]
		}
	}
	if extraction == nil {
		t.Fatal("extraction stage missing")
	}
	if extraction.Status != store.StageSuccess {
		t.Errorf("fallback stage stays SUCCESS, got %q", extraction.Status)
	}
	if extraction.ErrorCode == nil || *extraction.ErrorCode != "PARSE_ERROR" {
		t.Errorf("fallback stage should carry PARSE_ERROR, got %v", extraction.ErrorCode)
	}
}

func TestIngestStoreFailureSurfaced(t *testing.T) {
	st := newTestStore(t)
	st.Close()
	svc := NewIngestService(st, stubExtractor{fields: map[string]any{"claim_number": "X"}}, testLogger(), time.Second)

	_, err := svc.Ingest(context.Background(), ParsedEmail{Subject: "s", Body: "b"})
	if err == nil {
		t.Fatal("store failure must surface as ingestion failure")
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrExtraction) {
		t.Errorf("store failure mislabeled: %v", err)
	}
}
