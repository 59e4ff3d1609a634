// Package middleware provides cross-cutting concerns for the dataset
// pipeline: Prometheus metrics and the HTTP endpoint that exposes them.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-rationale/internal/ports"
)

// namespace prefixes every metric exported by the pipeline.
const namespace = "rationale"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It tracks harness progress (items, passes, aggregation) and model traffic
// reported by the LLM metrics middleware. Metrics live in a private registry
// so several instances can coexist in one process.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Harness metrics.
	itemsProcessed        *prometheus.CounterVec
	itemsIncomplete       *prometheus.GaugeVec
	orchestrationFailures *prometheus.CounterVec
	chunkSize             *prometheus.HistogramVec
	aggregateRows         *prometheus.GaugeVec
	aggregateDropped      *prometheus.CounterVec

	// Model metrics.
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmImages   *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmCircuit  *prometheus.GaugeVec
	llmTrips    *prometheus.CounterVec

	// Fallbacks for names without a dedicated metric.
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
	histograms       *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance with its own
// registry. Go runtime and process collectors are registered alongside the
// pipeline metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		itemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_processed_total",
				Help:      "Work items attempted, by outcome.",
			},
			[]string{"stage", "status"},
		),
		itemsIncomplete: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_incomplete",
				Help:      "Work items without a record at the start of the latest pass.",
			},
			[]string{"stage"},
		),
		orchestrationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orchestration_failures_total",
				Help:      "Passes that failed outside of any single work item.",
			},
			[]string{"stage"},
		),
		chunkSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_size",
				Help:      "Work items per worker chunk.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"stage"},
		),
		aggregateRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aggregate_rows",
				Help:      "Rows written to the latest dataset.",
			},
			[]string{"stage"},
		),
		aggregateDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_dropped_total",
				Help:      "Records or rows left out of a dataset, by reason.",
			},
			[]string{"stage", "reason"},
		),

		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Model requests, by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Estimated tokens sent to and received from models.",
			},
			[]string{"provider", "model", "token_type"},
		),
		llmImages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_images_total",
				Help:      "Images attached to model requests.",
			},
			[]string{"provider", "model"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_latency_seconds",
				Help:      "Model request latency.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider", "model", "status"},
		),
		llmCircuit: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "llm_circuit_state",
				Help:      "Circuit breaker state per model: 0 closed, 1 open, 2 half open.",
			},
			[]string{"provider", "model"},
		),
		llmTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_circuit_trips_total",
				Help:      "Times a model's circuit breaker opened.",
			},
			[]string{"provider", "model"},
		),

		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of harness operations such as items, passes and aggregation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "stage"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Counters without a dedicated metric.",
			},
			[]string{"metric", "stage"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_state",
				Help:      "Gauges without a dedicated metric.",
			},
			[]string{"metric", "stage"},
		),
		histograms: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Histograms without a dedicated metric.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric", "stage"},
		),
	}
}

// Registry returns the registry holding every metric of this instance.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

// WriteTextfile writes the current metrics in the text exposition format,
// for pickup by the node exporter textfile collector. The file is replaced
// atomically.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, pm.registry)
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.operationLatency.WithLabelValues(operation, stage(labels)).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "items_processed_total":
		pm.itemsProcessed.WithLabelValues(stage(labels), labelOr(labels, "status", "success")).Add(value)
	case "orchestration_failures_total":
		pm.orchestrationFailures.WithLabelValues(stage(labels)).Add(value)
	case "aggregate_skipped_total":
		pm.aggregateDropped.WithLabelValues(stage(labels), "malformed").Add(value)
	case "aggregate_excluded_total":
		pm.aggregateDropped.WithLabelValues(stage(labels), "excluded").Add(value)
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(provider(labels), labels["model"], labelOr(labels, "status", "success")).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(provider(labels), labels["model"], labelOr(labels, "token_type", "unknown")).Add(value)
	case "llm_images_total":
		pm.llmImages.WithLabelValues(provider(labels), labels["model"]).Add(value)
	case "llm_circuit_trips_total":
		pm.llmTrips.WithLabelValues(provider(labels), labels["model"]).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, stage(labels)).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "items_incomplete":
		pm.itemsIncomplete.WithLabelValues(stage(labels)).Set(value)
	case "aggregate_rows":
		pm.aggregateRows.WithLabelValues(stage(labels)).Set(value)
	case "llm_circuit_state":
		pm.llmCircuit.WithLabelValues(provider(labels), labels["model"]).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric, stage(labels)).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "chunk_size":
		pm.chunkSize.WithLabelValues(stage(labels)).Observe(value)
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(provider(labels), labels["model"], labelOr(labels, "status", "success")).Observe(value)
	default:
		pm.histograms.WithLabelValues(metric, stage(labels)).Observe(value)
	}
}

func stage(labels map[string]string) string { return labelOr(labels, "stage", "unknown") }

func provider(labels map[string]string) string { return labelOr(labels, "provider", "unknown") }

func labelOr(labels map[string]string, key, def string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return def
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
