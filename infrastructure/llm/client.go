// Package llm provides a unified interface for interacting with vision-capable
// LLM providers with built-in support for rate limiting, circuit breaking,
// retries, metrics, and tracing.
//
// Providers (OpenAI, Anthropic, Google) sit behind the CoreLLM interface and
// cross-cutting concerns are layered on as middleware, so a pipeline stage can
// switch provider or add operational features without changing its own code.
//
// Basic usage:
//
//	client, err := llm.NewClient("google", llm.ClientConfig{
//	    APIKey: os.Getenv("GEMINI_API_KEY"),
//	    Model:  "gemini-1.5-pro",
//	})
//	answer, err := client.CompleteWithImages(ctx, prompt, images, nil)
//
// With middleware:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(5, 10),
//	        llm.RetryMiddleware(3, time.Second, 30*time.Second),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second, collector),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// CoreLLM is what a provider implements and what middleware wraps.
type CoreLLM interface {
	// DoRequest sends prompt with any images and returns the reply with its
	// input and output token counts. No images means a text-only request.
	DoRequest(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (
		response string, tokensIn, tokensOut int, err error)
	GetModel() string
	SetModel(model string)
}

// Middleware decorates a CoreLLM.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig configures a single provider client.
type ClientConfig struct {
	APIKey string
	Model  string
	// BaseURL replaces the provider endpoint. Empty keeps the default.
	BaseURL string
	// Timeout bounds each HTTP request inside the SDK. Zero keeps the SDK
	// default.
	Timeout time.Duration
	// Middleware wraps the provider, outermost first.
	Middleware []Middleware
}

// ProviderFactory builds the CoreLLM for one provider type.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory makes providerType available to NewClient. The
// built-in providers register from init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// Client adapts a wrapped CoreLLM to ports.LLMClient.
type Client struct {
	core    CoreLLM
	counter *TokenCounter
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient builds the provider registered as providerType and wraps it in
// config.Middleware.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	switch {
	case config.APIKey == "":
		return nil, ErrEmptyAPIKey
	case config.Model == "":
		return nil, fmt.Errorf("%s: model is required", providerType)
	}
	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}
	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", providerType, err)
	}
	return newClientFromCore(core, config.Middleware), nil
}

func newClientFromCore(core CoreLLM, chain []Middleware) *Client {
	for _, mw := range slices.Backward(chain) {
		core = mw(core)
	}
	return &Client{core: core, counter: NewTokenCounter()}
}

func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	reply, _, _, err := c.core.DoRequest(ctx, prompt, nil, options)
	return reply, err
}

func (c *Client) CompleteWithImages(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, error) {
	reply, _, _, err := c.core.DoRequest(ctx, prompt, images, options)
	return reply, err
}

// CompleteWithUsage is CompleteWithImages plus token counts.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, images, options)
}

// EstimateTokens never fails; the error satisfies ports.LLMClient.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.counter.EstimateTokens(text), nil
}

func (c *Client) GetModel() string { return c.core.GetModel() }
