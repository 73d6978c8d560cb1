// Package seed populates the store with representative FNOL traffic so the
// dashboard has data to show before real ingestion runs. No model calls are
// made; telemetry is generated.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"fnol-observability-api/internal/store"
)

const (
	successRate = 0.75
	partialRate = 0.15
)

var llmStages = map[string]bool{
	store.StageOCRProcessing: true,
	store.StageLLMExtraction: true,
	store.StageValidation:    true,
}

var models = []string{"gemini-2.5-flash", "gemini-1.5-pro", "gemini-1.5-flash"}

var errorCodes = []string{
	"TIMEOUT_ERROR",
	"API_RATE_LIMIT",
	"VALIDATION_FAILED",
	"PARSE_ERROR",
	"NETWORK_ERROR",
}

var errorMessages = map[string]string{
	"TIMEOUT_ERROR":     "Request timed out after 30 seconds",
	"API_RATE_LIMIT":    "API rate limit exceeded, retry after 60s",
	"VALIDATION_FAILED": `Required field "policy_number" missing or invalid`,
	"PARSE_ERROR":       "Unable to extract structured data from attachment",
	"NETWORK_ERROR":     "Connection refused to external service",
}

var sampleEmails = []struct {
	subject string
	body    string
	claim   string
}{
	{"Car accident claim", "Policy ABC123, rear-ended on the highway on 2026-08-20. Bumper and trunk damaged.", "ABC123"},
	{"Water damage - kitchen", "Policy HM-4482, dishwasher hose burst overnight, kitchen floor flooded.", "HM-4482"},
	{"Storm damage to roof", "Policy PR-9921, hail storm on 2026-08-15 damaged roof shingles and gutters.", "PR-9921"},
	{"Stolen bicycle report", "Policy RN-0275, bicycle stolen from locked garage sometime last weekend.", "RN-0275"},
	{"Windshield crack", "Policy AU-7730, rock chip spread into a full crack across the windshield.", "AU-7730"},
}

// Run inserts n synthetic claim records with traces, stage executions and
// llm metrics spread over the past week. The rand seed makes output
// reproducible.
func Run(ctx context.Context, st *store.Store, n int, randSeed int64) (int, error) {
	rng := rand.New(rand.NewSource(randSeed))
	now := time.Now().UTC()

	inserted := 0
	for i := 0; i < n; i++ {
		sample := sampleEmails[rng.Intn(len(sampleEmails))]
		start := now.Add(-time.Duration(rng.Intn(7*24)) * time.Hour)

		status, failureStage := rollStatus(rng)
		stages := buildStages(rng, start, status, failureStage)
		metrics := buildMetrics(rng, stages)

		last := stages[len(stages)-1]
		end := *last.EndTime
		totalMs := end.Sub(start).Milliseconds()

		trace := store.Trace{
			Status:          status,
			StartTime:       start,
			EndTime:         &end,
			TotalDurationMs: &totalMs,
			CreatedAt:       start,
		}
		if failureStage != "" {
			fs := failureStage
			trace.FailureStage = &fs
		}

		sender := fmt.Sprintf("policyholder%d@example.com", rng.Intn(900)+100)
		received := start
		rec := store.EmailIntake{
			Subject:    sample.subject,
			Body:       sample.body,
			Sender:     &sender,
			ReceivedAt: &received,
			CreatedAt:  start,
		}
		if status != store.StatusFailed {
			rec.ExtractedFields = map[string]any{
				"claim_number":     sample.claim,
				"policy_holder":    "Sample Policyholder",
				"incident_date":    start.Format("2006-01-02"),
				"loss_description": sample.body,
			}
		}

		stampCreatedAt(stages, metrics, start)
		_, _, err := st.InsertIngestion(ctx, rec, store.IngestTelemetry{
			Trace:   trace,
			Stages:  stages,
			Metrics: metrics,
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to insert seed record %d: %w", i+1, err)
		}
		inserted++
	}
	return inserted, nil
}

func rollStatus(rng *rand.Rand) (status, failureStage string) {
	r := rng.Float64()
	switch {
	case r < successRate:
		return store.StatusSuccess, ""
	case r < successRate+partialRate:
		// Partial runs fail somewhere after extraction started.
		later := store.PipelineStages[3:]
		return store.StatusPartial, later[rng.Intn(len(later))]
	default:
		return store.StatusFailed, store.PipelineStages[rng.Intn(len(store.PipelineStages))]
	}
}

func buildStages(rng *rand.Rand, start time.Time, status, failureStage string) []store.StageExecution {
	var stages []store.StageExecution
	current := start
	failureIdx := indexOf(store.PipelineStages, failureStage)

	for idx, name := range store.PipelineStages {
		stageStatus := store.StageSuccess
		var errCode, errMsg *string

		switch {
		case name == failureStage:
			stageStatus = store.StageFailed
			code := errorCodes[rng.Intn(len(errorCodes))]
			msg := errorMessages[code]
			errCode, errMsg = &code, &msg
		case status == store.StatusPartial && failureIdx >= 0 && idx > failureIdx:
			stageStatus = store.StageSkipped
		}

		durationMs := int64(rng.Intn(7500) + 500)
		end := current.Add(time.Duration(durationMs) * time.Millisecond)
		stages = append(stages, store.StageExecution{
			StageName:    name,
			Status:       stageStatus,
			StartTime:    current,
			EndTime:      &end,
			DurationMs:   &durationMs,
			ErrorCode:    errCode,
			ErrorMessage: errMsg,
		})
		current = end

		if stageStatus == store.StageFailed && status == store.StatusFailed {
			break
		}
	}
	return stages
}

func buildMetrics(rng *rand.Rand, stages []store.StageExecution) []store.LLMMetric {
	var metrics []store.LLMMetric
	for _, st := range stages {
		if !llmStages[st.StageName] || st.Status != store.StageSuccess {
			continue
		}
		promptTokens := int64(rng.Intn(2500) + 500)
		completionTokens := int64(rng.Intn(1300) + 200)
		temp := 0.7
		metrics = append(metrics, store.LLMMetric{
			StageName:        st.StageName,
			ModelName:        models[rng.Intn(len(models))],
			PromptVersion:    fmt.Sprintf("v%d.%d", rng.Intn(5)+1, rng.Intn(10)),
			PromptHash:       fmt.Sprintf("hash_%06d", rng.Intn(900000)+100000),
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			CostUSD:          float64(promptTokens+completionTokens) / 1e6 * 1.5,
			LatencyMs:        int64(rng.Intn(4500) + 500),
			Temperature:      &temp,
		})
	}
	return metrics
}

// stampCreatedAt backdates telemetry rows so window-based analytics see the
// seeded history, not one burst at seeding time.
func stampCreatedAt(stages []store.StageExecution, metrics []store.LLMMetric, at time.Time) {
	for i := range stages {
		stages[i].CreatedAt = at
	}
	for i := range metrics {
		metrics[i].CreatedAt = at
	}
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}
