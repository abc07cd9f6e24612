package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BatchMetrics covers the batch worker: run outcomes, window and thread
// throughput, proposal review outcomes, and LLM usage.
type BatchMetrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runInFlight    prometheus.Gauge
	windowsTotal   *prometheus.CounterVec
	threadsTotal   *prometheus.CounterVec
	proposalsTotal *prometheus.CounterVec
	llmCallsTotal  *prometheus.CounterVec
	llmTokensTotal *prometheus.CounterVec
	watermarkLag   *prometheus.GaugeVec
}

func NewBatchMetrics(service string) *BatchMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Total batch runs by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "run_duration_seconds",
			Help:      "Batch run duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "run_in_flight",
			Help:      "Whether a batch run is currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	windowsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "windows_total",
			Help:      "Total processed batch windows.",
		},
		[]string{"service"},
	)
	threadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "threads_total",
			Help:      "Total conversation threads by persistence outcome.",
		},
		[]string{"service", "outcome"},
	)
	proposalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "review",
			Name:      "proposals_total",
			Help:      "Total reviewed proposals by outcome.",
		},
		[]string{"service", "outcome"},
	)
	llmCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total LLM calls made by batch runs.",
		},
		[]string{"service"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdocs",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed by batch runs.",
		},
		[]string{"service"},
	)

	watermarkLag := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cdocs",
			Subsystem: "batch",
			Name:      "watermark_lag_seconds",
			Help:      "How far behind wall clock each stream's watermark is after a run.",
		},
		[]string{"service", "stream_id"},
	)

	registry.MustRegister(
		runsTotal,
		runDuration,
		runInFlight,
		windowsTotal,
		threadsTotal,
		proposalsTotal,
		llmCallsTotal,
		llmTokensTotal,
		watermarkLag,
	)

	return &BatchMetrics{
		registry:       registry,
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		runInFlight:    runInFlight,
		windowsTotal:   windowsTotal,
		threadsTotal:   threadsTotal,
		proposalsTotal: proposalsTotal,
		llmCallsTotal:  llmCallsTotal,
		llmTokensTotal: llmTokensTotal,
		watermarkLag:   watermarkLag,
	}
}

func (m *BatchMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *BatchMetrics) StartRun() {
	m.runInFlight.Inc()
}

// RunOutcome is the flattened result of one batch run.
type RunOutcome struct {
	Windows           int
	ThreadsCommitted  int
	ThreadsFailed     int
	ProposalsAccepted int
	ProposalsRejected int
	LLMCalls          int
	TokensUsed        int
	WatermarkLags     map[string]time.Duration
}

func (m *BatchMetrics) FinishRun(service string, duration time.Duration, outcome RunOutcome, err error) {
	m.runInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(service, status).Inc()
	m.runDuration.WithLabelValues(service, status).Observe(duration.Seconds())

	m.windowsTotal.WithLabelValues(service).Add(float64(outcome.Windows))
	m.threadsTotal.WithLabelValues(service, "committed").Add(float64(outcome.ThreadsCommitted))
	m.threadsTotal.WithLabelValues(service, "failed").Add(float64(outcome.ThreadsFailed))
	m.proposalsTotal.WithLabelValues(service, "accepted").Add(float64(outcome.ProposalsAccepted))
	m.proposalsTotal.WithLabelValues(service, "rejected").Add(float64(outcome.ProposalsRejected))
	m.llmCallsTotal.WithLabelValues(service).Add(float64(outcome.LLMCalls))
	m.llmTokensTotal.WithLabelValues(service).Add(float64(outcome.TokensUsed))
	for streamID, lag := range outcome.WatermarkLags {
		m.watermarkLag.WithLabelValues(service, streamID).Set(lag.Seconds())
	}
}
