package application

import (
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// Metric names recorded by the harness.
const (
	MetricItemsProcessed        = "items_processed_total"
	MetricItemsIncomplete       = "items_incomplete"
	MetricOrchestrationFailures = "orchestration_failures_total"
	MetricChunkSize             = "chunk_size"
	MetricAggregateRows         = "aggregate_rows"
	MetricAggregateSkipped      = "aggregate_skipped_total"
	MetricAggregateExcluded     = "aggregate_excluded_total"

	OperationItem      = "item"
	OperationPass      = "pass"
	OperationAggregate = "aggregate"
)

// nopMetrics discards all measurements.
type nopMetrics struct{}

var _ ports.MetricsCollector = nopMetrics{}

func (nopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (nopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string)     {}

func metricsOrNop(m ports.MetricsCollector) ports.MetricsCollector {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
