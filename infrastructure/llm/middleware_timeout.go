package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// timeoutLLM bounds a single attempt. Placed inside the retry middleware,
// each retry gets a fresh deadline.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware cancels an attempt that runs longer than timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{next: next, timeout: timeout}
	}
}

func (t *timeoutLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, prompt, images, opts)
}

func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }

func (t *timeoutLLM) SetModel(m string) { t.next.SetModel(m) }
