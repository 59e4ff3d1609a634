package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// MockCoreLLM is a scripted CoreLLM. Each call consumes the next entry of
// Errors, if any, and otherwise fails with Error or returns Response.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Model         string
	Error         error
	Errors        []error
	ResponseDelay time.Duration

	calls      int
	LastPrompt string
	LastImages []ports.Image
	LastOpts   map[string]any
}

var _ CoreLLM = (*MockCoreLLM)(nil)

func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{Response: "test response", TokensIn: 10, TokensOut: 20, Model: "test-model"}
}

func (m *MockCoreLLM) DoRequest(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	opts map[string]any,
) (string, int, int, error) {
	m.mu.Lock()
	m.calls++
	m.LastPrompt, m.LastImages, m.LastOpts = prompt, images, opts
	delay := m.ResponseDelay
	var err error
	if len(m.Errors) > 0 {
		err, m.Errors = m.Errors[0], m.Errors[1:]
	} else {
		err = m.Error
	}
	resp, in, out := m.Response, m.TokensIn, m.TokensOut
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}
	if err != nil {
		return "", 0, 0, err
	}
	return resp, in, out, nil
}

func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of DoRequest calls so far.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
