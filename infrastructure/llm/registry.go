// Registry hands out clients for several providers. Clients are addressed by
// "provider" or "provider/model" specs, created lazily and cached, and carry
// the registry's middleware chain and timeout.
//
//	registry, err := llm.NewRegistry(llm.RegistryConfig{
//	    DefaultProvider: "google",
//	    Providers:       llm.DefaultProviders,
//	})
//	vision, err := registry.GetClient("google/gemini-pro-vision")
//	judge, err := registry.GetClient("openai/gpt-3.5-turbo-1106")
package llm

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// ErrUnknownProvider is returned for a spec naming a provider the registry
// was not configured with.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry caches one client per provider/model pair.
type Registry struct {
	providers       map[string]ProviderConfig
	defaultProvider string
	middleware      []Middleware
	timeout         time.Duration

	mu      sync.RWMutex
	clients map[string]ports.LLMClient
}

// ProviderConfig describes one provider.
type ProviderConfig struct {
	// Type selects the implementation: openai, anthropic or google.
	Type string
	// APIKey authenticates the provider. When empty the key is read from EnvVar.
	APIKey string
	EnvVar string
	// DefaultModel is used for a spec that names only the provider.
	DefaultModel string
	// SupportedModels restricts the models a spec may name. Empty allows any.
	SupportedModels []string
	BaseURL         string
	// Middleware is applied inside the registry-wide chain.
	Middleware []Middleware
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Providers       map[string]ProviderConfig
	DefaultProvider string
	// DefaultTimeout is the SDK-level request timeout of every client.
	DefaultTimeout time.Duration
	// DefaultMiddleware wraps every client, outermost first.
	DefaultMiddleware []Middleware
}

// DefaultProviders lists the providers the dataset stages use, with the
// models each accepts.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: "gpt-4o",
		SupportedModels: []string{
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"gpt-4o", "gpt-4o-mini",
			"gpt-4", "gpt-4-turbo", "gpt-4-vision-preview",
			// Text-only; used for the secondary judge.
			"gpt-3.5-turbo", "gpt-3.5-turbo-1106",
			"o4-mini", "o3", "o1",
		},
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
		SupportedModels: []string{
			"claude-opus-4-20250514", "claude-sonnet-4-20250514",
			"claude-3-7-sonnet-20250219",
			"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022",
			"claude-3-opus-20240229", "claude-3-haiku-20240307",
		},
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
		SupportedModels: []string{
			"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite",
			"gemini-2.0-flash", "gemini-2.0-flash-lite",
			"gemini-1.5-pro", "gemini-1.5-flash",
			// Legacy names kept for reproducing earlier datasets.
			"gemini-pro", "gemini-pro-vision",
		},
	},
}

// NewRegistry creates a registry. No client is built until requested.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, ok := config.Providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	return &Registry{
		providers:       maps.Clone(config.Providers),
		defaultProvider: config.DefaultProvider,
		middleware:      slices.Clone(config.DefaultMiddleware),
		timeout:         config.DefaultTimeout,
		clients:         make(map[string]ports.LLMClient),
	}, nil
}

// DefaultProvider returns the provider used for an empty spec.
func (r *Registry) DefaultProvider() string { return r.defaultProvider }

// GetDefaultClient returns the default model of the default provider.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns the cached client for spec, creating it on first use.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	target, err := r.resolve(spec)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	client, ok := r.clients[target.key()]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[target.key()]; ok {
		return client, nil
	}

	cfg := r.providers[target.provider]
	client, err = newLLMClient(cfg.Type, ClientConfig{
		APIKey:     target.apiKey,
		Model:      target.model,
		BaseURL:    cfg.BaseURL,
		Timeout:    r.timeout,
		Middleware: slices.Concat(r.middleware, cfg.Middleware),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", target.key(), err)
	}
	r.clients[target.key()] = client
	return client, nil
}

// Check verifies that every spec names a known provider, a supported model
// and a provider with an API key, without creating any client. Empty specs
// are skipped so optional models can be passed as-is.
func (r *Registry) Check(specs ...string) error {
	var errs []error
	for _, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := r.resolve(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type resolved struct {
	provider, model, apiKey string
}

func (t resolved) key() string { return t.provider + "/" + t.model }

// resolve splits spec into provider and model and checks both, along with the
// provider's credentials.
func (r *Registry) resolve(spec string) (resolved, error) {
	if spec == "" {
		return resolved{}, fmt.Errorf("model spec cannot be empty")
	}
	provider, model, _ := strings.Cut(spec, "/")
	cfg, ok := r.providers[provider]
	if !ok {
		return resolved{}, fmt.Errorf("%w %q in %q", ErrUnknownProvider, provider, spec)
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	if len(cfg.SupportedModels) > 0 && !slices.Contains(cfg.SupportedModels, model) {
		return resolved{}, fmt.Errorf("model %q is not supported by provider %q; supported: %s",
			model, provider, strings.Join(cfg.SupportedModels, ", "))
	}
	key := cfg.resolveAPIKey()
	if key == "" {
		return resolved{}, fmt.Errorf("%w for provider %q: set it in config or %s", ErrEmptyAPIKey, provider, cfg.EnvVar)
	}
	return resolved{provider: provider, model: model, apiKey: key}, nil
}

func (p ProviderConfig) resolveAPIKey() string {
	if p.APIKey != "" || p.EnvVar == "" {
		return p.APIKey
	}
	return os.Getenv(p.EnvVar)
}

// newLLMClient avoids handing callers a non-nil interface around a nil *Client.
func newLLMClient(providerType string, config ClientConfig) (ports.LLMClient, error) {
	client, err := NewClient(providerType, config)
	if err != nil {
		return nil, err
	}
	return client, nil
}
