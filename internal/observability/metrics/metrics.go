// Package metrics registers the Prometheus collectors scraped from /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fnol_processing_duration_ms",
		Help:    "Duration of FNOL processing in milliseconds",
		Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
	}, []string{"status"})

	failureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnol_failure_total",
		Help: "Total number of FNOL processing failures",
	}, []string{"stage", "error_code"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Total number of LLM tokens consumed",
	}, []string{"model_name", "stage", "token_type"})

	llmCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cost_total",
		Help: "Total cost of LLM usage in USD",
	}, []string{"model_name", "stage"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_latency_ms",
		Help:    "LLM API response latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000},
	}, []string{"model_name", "stage"})

	active = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnol_active",
		Help: "Number of FNOLs currently being processed",
	})
)

func RecordFNOLDuration(status string, durationMs float64) {
	processingDuration.WithLabelValues(status).Observe(durationMs)
}

func RecordFNOLFailure(stage, errorCode string) {
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	failureTotal.WithLabelValues(stage, errorCode).Inc()
}

func RecordLLMTokens(modelName, stage string, promptTokens, completionTokens int64) {
	llmTokensTotal.WithLabelValues(modelName, stage, "prompt").Add(float64(promptTokens))
	llmTokensTotal.WithLabelValues(modelName, stage, "completion").Add(float64(completionTokens))
}

func RecordLLMCost(modelName, stage string, costUSD float64) {
	llmCostTotal.WithLabelValues(modelName, stage).Add(costUSD)
}

func RecordLLMLatency(modelName, stage string, latencyMs float64) {
	llmLatency.WithLabelValues(modelName, stage).Observe(latencyMs)
}

func IncActiveFNOLs() { active.Inc() }
func DecActiveFNOLs() { active.Dec() }

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
