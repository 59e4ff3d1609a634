// Package testutils holds test doubles shared across package tests.
package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ahrav/go-rationale/internal/ports"
)

// ErrScriptedFailure is returned by MockLLMClient for injected failures
// that were registered without an explicit error.
var ErrScriptedFailure = errors.New("scripted model failure")

// MockResponse defines a pre-configured response pattern for the mock client.
type MockResponse struct {
	// Pattern is matched case-insensitively as a substring of the prompt.
	// The empty pattern matches every prompt.
	Pattern string
	// Response is the text returned for matching prompts.
	Response string
}

// MockCall records a single request made against MockLLMClient.
type MockCall struct {
	Prompt  string
	Images  []ports.Image
	Options map[string]any
}

type scriptedFailure struct {
	pattern   string
	remaining int
	err       error
}

// MockLLMClient implements ports.LLMClient with deterministic, pattern-based
// responses. It is safe for concurrent use, so a worker pool can share one
// instance, and it records every call for later assertions.
type MockLLMClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	failures  []*scriptedFailure
	calls     []MockCall

	// Respond, when set, replaces pattern matching entirely.
	Respond func(prompt string, images []ports.Image) (string, error)
}

// NewMockLLMClient creates a MockLLMClient reporting the given model name.
// Without any registered responses every prompt is answered with "ok".
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse registers a response pattern. Patterns are tried in the order
// they were added and the first match wins.
func (m *MockLLMClient) AddResponse(response MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{
		Pattern:  strings.ToLower(response.Pattern),
		Response: response.Response,
	})
	return m
}

// FailNext makes the next n prompts containing pattern fail with err, or
// with ErrScriptedFailure when err is nil. Failures are consumed before
// responses are matched.
func (m *MockLLMClient) FailNext(pattern string, n int, err error) *MockLLMClient {
	if err == nil {
		err = ErrScriptedFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, &scriptedFailure{
		pattern:   strings.ToLower(pattern),
		remaining: n,
		err:       err,
	})
	return m
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	return m.CompleteWithImages(ctx, prompt, nil, options)
}

// CompleteWithImages implements ports.LLMClient.
func (m *MockLLMClient) CompleteWithImages(
	ctx context.Context,
	prompt string,
	images []ports.Image,
	options map[string]any,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Images: images, Options: options})
	lower := strings.ToLower(prompt)
	for _, f := range m.failures {
		if f.remaining > 0 && strings.Contains(lower, f.pattern) {
			f.remaining--
			m.mu.Unlock()
			return "", f.err
		}
	}
	respond := m.Respond
	response, matched := m.match(lower)
	m.mu.Unlock()

	if respond != nil {
		return respond(prompt, images)
	}
	if !matched {
		return "ok", nil
	}
	return response, nil
}

func (m *MockLLMClient) match(lowerPrompt string) (string, bool) {
	for _, r := range m.responses {
		if strings.Contains(lowerPrompt, r.Pattern) {
			return r.Response, true
		}
	}
	return "", false
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return max(1, len(text)/4), nil
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Calls returns a copy of every recorded call in arrival order.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsMatching counts recorded prompts containing pattern.
func (m *MockLLMClient) CallsMatching(pattern string) int {
	pattern = strings.ToLower(pattern)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(strings.ToLower(c.Prompt), pattern) {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and pending failures, keeping responses.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failures = nil
}

var _ ports.LLMClient = (*MockLLMClient)(nil)
