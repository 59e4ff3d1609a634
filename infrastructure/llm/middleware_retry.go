package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// retryJitter spreads each backoff delay by up to this fraction either way.
const retryJitter = 0.25

// backoff doubles from base on every retry, capped at max.
type backoff struct {
	base, max time.Duration
	jitter    float64
}

func (b backoff) delay(retry int) time.Duration {
	d := b.base << min(max(retry, 0), 30)
	if d <= 0 || d > b.max {
		d = b.max
	}
	if spread := int64(float64(d) * b.jitter); spread > 0 {
		//nolint:gosec // G404: jitter does not need a secure source.
		d += time.Duration(rand.Int64N(2*spread) - spread)
	}
	return min(max(d, 0), b.max)
}

// RetryMiddleware resends a request up to maxRetries more times while its
// error is retryable, sleeping an exponential backoff between attempts.
// Every attempt passes through the middleware inside this one.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	b := backoff{base: baseDelay, max: maxDelay, jitter: retryJitter}
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{next: next, maxRetries: max(maxRetries, 0), backoff: b}
	}
}

type retryLLM struct {
	next       CoreLLM
	maxRetries int
	backoff    backoff
}

func (r *retryLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	for retry := 0; ; retry++ {
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, images, opts)
		switch {
		case err == nil:
			return response, tokensIn, tokensOut, nil
		case ctx.Err() != nil || !IsRetryableError(err):
			if retry == 0 {
				return "", 0, 0, err
			}
			return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", retry+1, err)
		case retry == r.maxRetries:
			return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", retry+1, err)
		}

		timer := time.NewTimer(r.backoff.delay(retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *retryLLM) GetModel() string  { return r.next.GetModel() }
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }

// transientMessages are matched against errors that were never classified
// into a ProviderError.
var transientMessages = []string{
	"rate limit", "too many requests", "timeout", "connection refused",
	"connection reset", "temporary failure", "service unavailable",
	"internal server error", "bad gateway", "gateway timeout", "eof",
}

// IsRetryableError reports whether err is likely to go away on its own.
// ProviderErrors decide by type; other errors by their message.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
