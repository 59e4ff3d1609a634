package llm

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// metricsLLM records one request count and latency observation per call,
// plus image and token counters, labelled by provider, model and status.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware reports every request to collector. A nil collector
// disables recording.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, collector: collector}
	}
}

func (m *metricsLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, images, opts)
	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	model := m.next.GetModel()
	labels := map[string]string{
		"provider": providerOf(model),
		"model":    model,
		"status":   requestStatus(err),
	}
	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)
	if len(images) > 0 {
		m.collector.RecordCounter("llm_images_total", float64(len(images)), labels)
	}
	if err == nil {
		for tokenType, n := range map[string]int{"input": tokensIn, "output": tokensOut} {
			tl := maps.Clone(labels)
			tl["token_type"] = tokenType
			m.collector.RecordCounter("llm_tokens_total", float64(n), tl)
		}
	}
	return response, tokensIn, tokensOut, err
}

// requestStatus labels a request outcome. Classified provider errors use
// their type, such as rate_limit or content_policy.
func requestStatus(err error) string {
	var perr *ProviderError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &perr) && perr.Type != ErrorTypeUnknown:
		return perr.Type.String()
	default:
		return "error"
	}
}

// providerOf infers the provider from a model name.
func providerOf(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	default:
		return "unknown"
	}
}

func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
