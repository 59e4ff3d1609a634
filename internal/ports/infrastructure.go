package ports

import (
	"context"
	"time"
)

// Image is an image attached to a model request. Data holds the raw file
// bytes; providers encode them as their APIs require.
type Image struct {
	// Path identifies the image in logs and errors.
	Path string

	// MIMEType is the detected media type, for example "image/jpeg".
	MIMEType string

	Data []byte
}

// LLMClient is a model endpoint the stages send prompts to. Retries, rate
// limits and timeouts are the implementation's business.
//
// Recognized options are "model", "system", "max_tokens", "temperature" and
// "top_p"; providers pass other keys through or ignore them.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithImages attaches images to the prompt. A model that cannot
	// take images fails the call instead of dropping them.
	CompleteWithImages(ctx context.Context, prompt string, images []Image, options map[string]any) (string, error)

	EstimateTokens(text string) (int, error)

	// GetModel names the model, for logs and metrics.
	GetModel() string
}

// MetricsCollector receives harness and model metrics. Metric names are
// fixed strings; labels carry stage, provider, model and status.
type MetricsCollector interface {
	RecordLatency(operation string, duration time.Duration, labels map[string]string)
	RecordCounter(metric string, value float64, labels map[string]string)
	RecordGauge(metric string, value float64, labels map[string]string)
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Ledger is a durable keyed blob store holding one record per completed
// work item. The existence of a name is the only completion signal, so
// Write must never expose a partially written record to List.
//
// Implementations include a local directory and an object-store prefix.
type Ledger interface {
	// List returns the names currently stored. A location that does not
	// exist yet lists as empty. Every call reflects the live state; results
	// are never cached.
	List(ctx context.Context) ([]string, error)

	// Read returns the content stored under name. It returns an error
	// wrapping ErrRecordNotFound when the name is absent.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write stores data under name atomically, replacing any previous
	// content.
	Write(ctx context.Context, name string, data []byte) error

	// Sub returns a ledger rooted at the named child location.
	Sub(name string) Ledger

	// Location describes where the ledger lives, for logs.
	Location() string
}
