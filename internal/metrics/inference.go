package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// Inference Prometheus metrics.
var (
	ModelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidex",
			Name:      "model_load_duration_seconds",
			Help:      "Model load duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	ModelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "evidex",
			Name:      "model_state",
			Help:      "Current model state (1 for the active state)",
		},
		[]string{"role", "state"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidex",
			Name:      "inference_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage", "role"},
	)

	InferenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidex",
			Name:      "inference_errors_total",
			Help:      "Total pipeline stage errors",
		},
		[]string{"stage", "error_type"},
	)

	WarmupDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "evidex",
			Name:      "warmup_duration_seconds",
			Help:      "Last warmup latency per model role",
		},
		[]string{"role"},
	)

	VectorCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidex",
			Name:      "vector_cache_total",
			Help:      "Vector cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "evidex",
			Name:      "search_results",
			Help:      "Number of references returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)
)

var inferenceMetricsRegistered bool

// RegisterInferenceMetrics registers Prometheus inference metrics. Must be called once from main.
func RegisterInferenceMetrics() {
	if inferenceMetricsRegistered {
		return
	}
	prometheus.MustRegister(ModelLoadDuration)
	prometheus.MustRegister(ModelState)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(InferenceErrorsTotal)
	prometheus.MustRegister(WarmupDuration)
	prometheus.MustRegister(VectorCacheTotal)
	prometheus.MustRegister(SearchResults)
	inferenceMetricsRegistered = true
}

// ErrorType buckets an error for the error_type label.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, domain.ErrInvalidImageInput):
		return "invalid_image"
	case errors.Is(err, domain.ErrDegenerateVectorInput):
		return "degenerate_vector"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// ObserveStage records the duration of one pipeline stage and counts its error, if any.
func ObserveStage(stage, role string, start time.Time, err error) {
	InferenceDuration.WithLabelValues(stage, role).Observe(time.Since(start).Seconds())
	if err != nil {
		InferenceErrorsTotal.WithLabelValues(stage, ErrorType(err)).Inc()
	}
}
