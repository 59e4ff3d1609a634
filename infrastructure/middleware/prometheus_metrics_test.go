package middleware

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/application"
	"github.com/ahrav/go-rationale/internal/ports"
)

// TestNewPrometheusMetrics verifies that every metric vector is initialized
// and that independent instances do not collide on registration.
func TestNewPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	other := NewPrometheusMetrics()

	assert.NotNil(t, pm.Registry())
	assert.NotSame(t, pm.Registry(), other.Registry())
	assert.NotNil(t, pm.itemsProcessed)
	assert.NotNil(t, pm.llmLatency)
	assert.NotNil(t, pm.systemGauges)

	var _ ports.MetricsCollector = pm
}

func TestPrometheusMetrics_HarnessMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	qa := map[string]string{"stage": "qa"}

	pm.RecordCounter(application.MetricItemsProcessed, 1, map[string]string{"stage": "qa", "status": "success"})
	pm.RecordCounter(application.MetricItemsProcessed, 1, map[string]string{"stage": "qa", "status": "success"})
	pm.RecordCounter(application.MetricItemsProcessed, 1, map[string]string{"stage": "qa", "status": "failure"})
	pm.RecordGauge(application.MetricItemsIncomplete, 7, qa)
	pm.RecordGauge(application.MetricAggregateRows, 12, qa)
	pm.RecordCounter(application.MetricAggregateSkipped, 2, qa)
	pm.RecordCounter(application.MetricAggregateExcluded, 3, qa)
	pm.RecordCounter(application.MetricOrchestrationFailures, 1, qa)
	pm.RecordHistogram(application.MetricChunkSize, 4, qa)
	pm.RecordLatency(application.OperationPass, 2*time.Second, qa)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.itemsProcessed.WithLabelValues("qa", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.itemsProcessed.WithLabelValues("qa", "failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pm.itemsIncomplete.WithLabelValues("qa")))
	assert.Equal(t, 12.0, testutil.ToFloat64(pm.aggregateRows.WithLabelValues("qa")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.aggregateDropped.WithLabelValues("qa", "malformed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.aggregateDropped.WithLabelValues("qa", "excluded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.orchestrationFailures.WithLabelValues("qa")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.chunkSize))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.operationLatency))
}

func TestPrometheusMetrics_LLMMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	labels := map[string]string{"provider": "google", "model": "gemini-pro-vision", "status": "success"}

	pm.RecordCounter("llm_requests_total", 1, labels)
	pm.RecordCounter("llm_images_total", 1, labels)
	pm.RecordHistogram("llm_latency_seconds", 1.5, labels)
	pm.RecordCounter("llm_tokens_total", 120, map[string]string{"model": "gemini-pro-vision", "token_type": "input"})

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("google", "gemini-pro-vision", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmImages.WithLabelValues("google", "gemini-pro-vision")))
	assert.Equal(t, 120.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("unknown", "gemini-pro-vision", "input")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.llmLatency))

	breaker := map[string]string{"provider": "openai", "model": "gpt-4o"}
	pm.RecordGauge("llm_circuit_state", 1, breaker)
	pm.RecordCounter("llm_circuit_trips_total", 1, breaker)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmCircuit.WithLabelValues("openai", "gpt-4o")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmTrips.WithLabelValues("openai", "gpt-4o")))
}

func TestPrometheusMetrics_Fallbacks(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordCounter("custom_total", 5, nil)
	pm.RecordGauge("queue_depth", 3, map[string]string{"stage": "judge"})
	pm.RecordHistogram("reply_bytes", 512, nil)

	assert.Equal(t, 5.0, testutil.ToFloat64(pm.operationCounter.WithLabelValues("custom_total", "unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("queue_depth", "judge")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.histograms))
}

func TestPrometheusMetrics_WriteTextfile(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.RecordGauge(application.MetricItemsIncomplete, 4, map[string]string{"stage": "rationale"})

	path := filepath.Join(t.TempDir(), "rationale.prom")
	require.NoError(t, pm.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `rationale_items_incomplete{stage="rationale"} 4`))
}
