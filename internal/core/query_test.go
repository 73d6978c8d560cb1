package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fnol-observability-api/internal/store"
)

func ingestOne(t *testing.T, st *store.Store, fields map[string]any, received *time.Time) string {
	t.Helper()
	svc := NewIngestService(st, stubExtractor{fields: fields}, testLogger(), time.Second)
	result, err := svc.Ingest(context.Background(), ParsedEmail{
		Subject:    "Accident",
		Body:       "Policy ABC123, incident 2024-01-01",
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return result.FNOLID
}

func TestListFNOLsSingleRecord(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	fnolID := ingestOne(t, st, map[string]any{"claim_number": "ABC123"}, &now)

	qs := NewQueryService(st, testLogger())
	page := qs.ListFNOLs(context.Background(), ListQuery{Page: 1, PageSize: 20})

	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("want exactly one item, got total=%d len=%d", page.Total, len(page.Items))
	}
	if page.Items[0].FNOLID != fnolID {
		t.Errorf("fnol id mismatch: %s vs %s", page.Items[0].FNOLID, fnolID)
	}
	if page.Items[0].Status != store.StatusSuccess {
		t.Errorf("status = %q", page.Items[0].Status)
	}
	if page.TotalPages != 1 {
		t.Errorf("total_pages = %d", page.TotalPages)
	}
}

func TestListFNOLsPaginationInvariants(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		ingestOne(t, st, map[string]any{"n": i}, &at)
	}

	qs := NewQueryService(st, testLogger())
	pageSize := 3
	wantPages := int64(3) // ceil(7/3)

	seen := 0
	for p := 1; p <= int(wantPages); p++ {
		page := qs.ListFNOLs(context.Background(), ListQuery{Page: p, PageSize: pageSize})
		if page.Total != 7 {
			t.Fatalf("page %d: total = %d", p, page.Total)
		}
		if page.TotalPages != wantPages {
			t.Fatalf("page %d: total_pages = %d, want %d", p, page.TotalPages, wantPages)
		}
		if len(page.Items) > pageSize {
			t.Fatalf("page %d: %d items exceeds page size", p, len(page.Items))
		}
		if p == int(wantPages) {
			if want := 7 - pageSize*(int(wantPages)-1); len(page.Items) != want {
				t.Fatalf("last page: %d items, want %d", len(page.Items), want)
			}
		}
		seen += len(page.Items)
	}
	if seen != 7 {
		t.Errorf("pages cover %d items, want 7", seen)
	}
}

func TestListFNOLsClampsPageArguments(t *testing.T) {
	st := newTestStore(t)
	qs := NewQueryService(st, testLogger())

	page := qs.ListFNOLs(context.Background(), ListQuery{Page: 0, PageSize: 0})
	if page.Page != 1 || page.PageSize != defaultPageSize {
		t.Errorf("defaults not applied: %+v", page)
	}
	page = qs.ListFNOLs(context.Background(), ListQuery{Page: 1, PageSize: 10_000})
	if page.PageSize != maxPageSize {
		t.Errorf("page size not capped: %d", page.PageSize)
	}
}

func TestListFNOLsDegradesOnStoreFailure(t *testing.T) {
	st := newTestStore(t)
	st.Close()

	qs := NewQueryService(st, testLogger())
	page := qs.ListFNOLs(context.Background(), ListQuery{Page: 1, PageSize: 20})

	if page.Items == nil || len(page.Items) != 0 {
		t.Errorf("items must be an empty slice, got %v", page.Items)
	}
	if page.Total != 0 || page.TotalPages != 0 {
		t.Errorf("want zeroed totals, got total=%d total_pages=%d", page.Total, page.TotalPages)
	}
}

func TestGetFNOLDetailRoundTrip(t *testing.T) {
	st := newTestStore(t)
	received := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	fnolID := ingestOne(t, st, map[string]any{"claim_number": "ABC123"}, &received)

	qs := NewQueryService(st, testLogger())
	detail, err := qs.GetFNOLDetail(context.Background(), fnolID)
	if err != nil {
		t.Fatalf("GetFNOLDetail: %v", err)
	}
	if detail.Trace.FNOLID != fnolID {
		t.Errorf("trace fnol id = %q", detail.Trace.FNOLID)
	}
	if detail.Trace.Status != store.StatusSuccess {
		t.Errorf("trace status = %q", detail.Trace.Status)
	}
	if detail.ExtractedFields["claim_number"] != "ABC123" {
		t.Errorf("extracted fields mismatch: %v", detail.ExtractedFields)
	}
	if len(detail.StageExecutions) != 2 {
		t.Errorf("want stored stages, got %d", len(detail.StageExecutions))
	}
	if len(detail.LLMMetrics) != 1 {
		t.Errorf("want stored metric, got %d", len(detail.LLMMetrics))
	}
}

func TestGetFNOLDetailIdempotent(t *testing.T) {
	st := newTestStore(t)
	received := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	fnolID := ingestOne(t, st, map[string]any{"claim_number": "ABC123"}, &received)

	qs := NewQueryService(st, testLogger())

	first, err := qs.GetFNOLDetail(context.Background(), fnolID)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := qs.GetFNOLDetail(context.Background(), fnolID)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("detail not stable across calls:\n%s\n%s", a, b)
	}
}

func TestGetFNOLDetailInvalidIDSkipsStore(t *testing.T) {
	st := newTestStore(t)
	st.Close() // a store lookup would error loudly

	qs := NewQueryService(st, testLogger())
	_, err := qs.GetFNOLDetail(context.Background(), "bad-format")
	if !errors.Is(err, store.ErrInvalidFNOLID) {
		t.Fatalf("want ErrInvalidFNOLID, got %v", err)
	}
}

func TestGetFNOLDetailNotFound(t *testing.T) {
	st := newTestStore(t)
	qs := NewQueryService(st, testLogger())

	_, err := qs.GetFNOLDetail(context.Background(), "EMAIL-999999")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetFNOLDetailSynthesizesForLegacyRecords(t *testing.T) {
	st := newTestStore(t)
	received := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

	// A record written without telemetry, as rows predating trace capture.
	_, fnolID, err := st.InsertIngestion(context.Background(), store.EmailIntake{
		Subject:         "legacy",
		Body:            "b",
		ReceivedAt:      &received,
		ExtractedFields: map[string]any{"claim_number": "OLD-1"},
	}, store.IngestTelemetry{})
	if err != nil {
		t.Fatalf("InsertIngestion: %v", err)
	}

	qs := NewQueryService(st, testLogger())
	detail, err := qs.GetFNOLDetail(context.Background(), fnolID)
	if err != nil {
		t.Fatalf("GetFNOLDetail: %v", err)
	}
	if detail.Trace.Status != store.StatusSuccess {
		t.Errorf("synthesized trace status = %q", detail.Trace.Status)
	}
	if len(detail.StageExecutions) != 1 || detail.StageExecutions[0].StageName != syntheticStage {
		t.Errorf("want one synthesized stage, got %+v", detail.StageExecutions)
	}
	if len(detail.LLMMetrics) != 1 || detail.LLMMetrics[0].TotalTokens != 700 {
		t.Errorf("want placeholder metric, got %+v", detail.LLMMetrics)
	}
}

func TestGetFNOLDetailLegacyWithoutFieldsOmitsMetrics(t *testing.T) {
	st := newTestStore(t)
	received := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	_, fnolID, err := st.InsertIngestion(context.Background(), store.EmailIntake{
		Subject:    "legacy",
		Body:       "b",
		ReceivedAt: &received,
	}, store.IngestTelemetry{})
	if err != nil {
		t.Fatalf("InsertIngestion: %v", err)
	}

	qs := NewQueryService(st, testLogger())
	detail, err := qs.GetFNOLDetail(context.Background(), fnolID)
	if err != nil {
		t.Fatalf("GetFNOLDetail: %v", err)
	}
	if len(detail.LLMMetrics) != 0 {
		t.Errorf("no extracted fields means no metric entry, got %+v", detail.LLMMetrics)
	}
	if detail.ExtractedFields == nil || len(detail.ExtractedFields) != 0 {
		t.Errorf("extracted fields should be an empty map, got %v", detail.ExtractedFields)
	}
}

func TestLLMMetricsOverviewAggregates(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	ingestOne(t, st, map[string]any{"claim_number": "A"}, &now)
	ingestOne(t, st, map[string]any{"claim_number": "B"}, &now)

	qs := NewQueryService(st, testLogger())
	overview := qs.GetLLMMetricsOverview(context.Background())

	// Two stub extractions at 700 tokens each.
	if overview.TotalTokensToday != 1400 {
		t.Errorf("total tokens = %d", overview.TotalTokensToday)
	}
	if overview.TotalCostToday <= 0 {
		t.Errorf("cost should be positive, got %v", overview.TotalCostToday)
	}
	if overview.AvgCostPerFNOL <= 0 || overview.AvgCostPerFNOL >= overview.TotalCostToday {
		t.Errorf("avg cost per fnol = %v (total %v)", overview.AvgCostPerFNOL, overview.TotalCostToday)
	}
	if len(overview.CostTrend) != 1 {
		t.Errorf("want one trend bucket, got %+v", overview.CostTrend)
	}
	if len(overview.ModelDistribution) != 1 || overview.ModelDistribution[0].Count != 2 {
		t.Errorf("model distribution mismatch: %+v", overview.ModelDistribution)
	}
}

func TestLLMMetricsOverviewDegradesToZeroes(t *testing.T) {
	st := newTestStore(t)
	st.Close()

	qs := NewQueryService(st, testLogger())
	overview := qs.GetLLMMetricsOverview(context.Background())
	if overview.TotalTokensToday != 0 || overview.TotalCostToday != 0 {
		t.Errorf("want zeroes, got %+v", overview)
	}
	if overview.CostTrend == nil || overview.ModelDistribution == nil {
		t.Errorf("slices must be empty, not nil")
	}
}

func TestDashboardStats(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	ingestOne(t, st, map[string]any{"claim_number": "A"}, &now)

	partial := NewIngestService(st, stubExtractor{
		fields:   map[string]any{"raw_response": "not json"},
		fallback: true,
	}, testLogger(), time.Second)
	if _, err := partial.Ingest(context.Background(), ParsedEmail{Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("partial ingest: %v", err)
	}

	qs := NewQueryService(st, testLogger())
	stats := qs.GetDashboardStats(context.Background())

	if stats.TotalFNOLsToday != 2 || stats.SuccessCount != 1 || stats.PartialCount != 1 {
		t.Errorf("stats mismatch: %+v", stats)
	}
	if stats.ManualReviewPercentage != 50 {
		t.Errorf("manual review percentage = %v, want 50", stats.ManualReviewPercentage)
	}
	if stats.AvgProcessingTimeMs == nil {
		t.Errorf("avg processing time should be set")
	}
}

func TestFailureAnalyticsEmptyStore(t *testing.T) {
	st := newTestStore(t)
	qs := NewQueryService(st, testLogger())

	analytics := qs.GetFailureAnalytics(context.Background())
	if analytics.FailureByStage == nil || analytics.TopErrorCodes == nil || analytics.FailureTrend == nil {
		t.Errorf("slices must be empty, not nil: %+v", analytics)
	}
	if len(analytics.FailureByStage) != 0 {
		t.Errorf("no failures expected: %+v", analytics.FailureByStage)
	}
}
