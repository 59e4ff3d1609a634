package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-rationale/internal/ports"
)

// rateLimitedLLM paces attempts through a token bucket shared by every
// client built from the same middleware value, so all stage workers
// together stay under the provider quota.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware allows limit attempts per second with bursts of up to
// burst.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{next: next, limiter: limiter}
	}
}

// DoRequest blocks until the bucket has a token or ctx ends.
func (r *rateLimitedLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.DoRequest(ctx, prompt, images, opts)
}

func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
