package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// ErrCircuitOpen is returned without calling the provider while a client's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the position of a breaker.
type CircuitBreakerState int

const (
	// StateClosed passes every request through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects requests until the cooldown has elapsed.
	StateOpen
	// StateHalfOpen admits a single probe; its outcome closes or reopens.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker counts consecutive provider failures and opens after
// maxFailures of them. Errors caused by the request itself, such as a bad
// image, a safety refusal or a cancellation, leave the count and the state
// alone.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool

	// onChange, when set, is called with the lock held after every state
	// change. It must not call back into the breaker.
	onChange func(from, to CircuitBreakerState)
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: max(maxFailures, 1), cooldown: cooldown}
}

// Call runs fn unless the breaker is open. fn runs without the lock held,
// so closed-state callers are not serialized.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
	}
	cb.probing = cb.state == StateHalfOpen
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.probing
	cb.probing = false
	switch {
	case err == nil:
		cb.failures = 0
		cb.setState(StateClosed)
		return
	case !countsAsFailure(err):
		// The streak and the state stay as they are. A probe the provider
		// answered still proves it reachable; a canceled probe proves
		// nothing, and the next call probes again.
		if !wasProbe {
			return
		}
		if isCanceled(err) {
			cb.setState(StateOpen)
			return
		}
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}

	cb.failures++
	if wasProbe || cb.failures >= cb.maxFailures {
		cb.openedAt = time.Now()
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// countsAsFailure excludes errors that say nothing about provider health.
func countsAsFailure(err error) bool {
	if isCanceled(err) {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Type {
		case ErrorTypeBadRequest, ErrorTypeContentPolicy:
			return false
		}
	}
	return true
}

func isCanceled(err error) bool {
	var perr *ProviderError
	return errors.Is(err, context.Canceled) || (errors.As(err, &perr) && perr.Type == ErrorTypeCanceled)
}

// GetState returns the current state. An open breaker whose cooldown has
// elapsed still reports open until the next call probes it.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerMiddleware gives every client it wraps a breaker of its own,
// so an outage of one provider never blocks calls to another. When collector
// is non-nil, the breaker reports its state as the llm_circuit_state gauge
// (0 closed, 1 open, 2 half open) and each opening as llm_circuit_trips_total.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		cb := NewCircuitBreaker(maxFailures, cooldown)
		if collector != nil {
			cb.onChange = stateReporter(collector, next.GetModel())
		}
		return &circuitBreakerLLM{next: next, cb: cb}
	}
}

func stateReporter(collector ports.MetricsCollector, model string) func(from, to CircuitBreakerState) {
	labels := map[string]string{"provider": providerOf(model), "model": model}
	return func(_, to CircuitBreakerState) {
		collector.RecordGauge("llm_circuit_state", float64(to), labels)
		if to == StateOpen {
			collector.RecordCounter("llm_circuit_trips_total", 1, labels)
		}
	}
}

type circuitBreakerLLM struct {
	next CoreLLM
	cb   *CircuitBreaker
}

func (c *circuitBreakerLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (response string, tokensIn, tokensOut int, err error) {
	err = c.cb.Call(func() error {
		var callErr error
		response, tokensIn, tokensOut, callErr = c.next.DoRequest(ctx, prompt, images, opts)
		return callErr
	})
	return response, tokensIn, tokensOut, err
}

func (c *circuitBreakerLLM) GetModel() string  { return c.next.GetModel() }
func (c *circuitBreakerLLM) SetModel(m string) { c.next.SetModel(m) }
