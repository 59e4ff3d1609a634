package llm

import (
	"encoding/base64"
	"sync"

	"github.com/ahrav/go-rationale/internal/ports"
)

// BaseProvider holds the model name shared by every provider.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the provider-neutral form of the opts map passed to
// DoRequest. Nil sampling fields keep the provider's default.
type RequestOptions struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	// Extra carries keys the neutral form does not know, such as top_k or
	// frequency_penalty.
	Extra map[string]any
}

// ParseRequestOptions reads opts, dropping values of the wrong type or out
// of range in favor of the defaults.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		Model:     requestOption(opts, OptionModel, defaultModel, IsNonEmptyString),
		System:    requestOption(opts, OptionSystem, "", nil),
		MaxTokens: requestOption(opts, OptionMaxTokens, DefaultMaxTokens, IsPositiveInt),
		Extra:     make(map[string]any),
	}
	if t := requestOption(opts, OptionTemperature, -1.0, IsValidTemperature); t >= 0 {
		options.Temperature = &t
	}
	if p := requestOption(opts, OptionTopP, -1.0, IsValidTopP); p >= 0 {
		options.TopP = &p
	}

	for k, v := range opts {
		switch k {
		case OptionModel, OptionSystem, OptionMaxTokens, OptionTemperature, OptionTopP:
		default:
			options.Extra[k] = v
		}
	}
	return options
}

// TokenCounter fills in token counts a provider did not report, at a fixed
// number of characters per token.
type TokenCounter struct {
	CharactersPerToken float64
}

func NewTokenCounter() *TokenCounter { return &TokenCounter{CharactersPerToken: 4} }

func (tc *TokenCounter) EstimateTokens(text string) int {
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount prefers a reported count and estimates from text otherwise.
func (tc *TokenCounter) GetTokenCount(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return tc.EstimateTokens(text)
}

// dataURI encodes an image as an RFC 2397 data URI.
func dataURI(img ports.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
