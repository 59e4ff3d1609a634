package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

// memLedger is an in-memory ports.Ledger that lists names in insertion
// order.
type memLedger struct {
	mu       sync.Mutex
	location string
	data     map[string][]byte
	order    []string
	writes   int
	listErrs []error
	children map[string]*memLedger
}

var _ ports.Ledger = (*memLedger)(nil)

func newMemLedger(location string) *memLedger {
	return &memLedger{
		location: location,
		data:     make(map[string][]byte),
		children: make(map[string]*memLedger),
	}
}

func (m *memLedger) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *memLedger) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data[name]
	if !ok {
		return nil, ports.NewLedgerError("read", m.location, name, ports.ErrRecordNotFound)
	}
	return d, nil
}

func (m *memLedger) Write(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; !ok {
		m.order = append(m.order, name)
	}
	m.data[name] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *memLedger) Sub(name string) ports.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.children[name]
	if !ok {
		c = newMemLedger(m.location + "/" + name)
		m.children[name] = c
	}
	return c
}

func (m *memLedger) Location() string { return m.location }

// failListing queues errors returned by the next List calls; a nil entry
// lets that call succeed.
func (m *memLedger) failListing(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErrs = append(m.listErrs, errs...)
}

func (m *memLedger) names() []string {
	names, _ := m.List(context.Background())
	return names
}

func (m *memLedger) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memLedger) put(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, m.Write(context.Background(), name, data))
}

// fakeRecord is the record type produced by scriptedStage.
type fakeRecord struct {
	Image string `json:"image"`
	Value string `json:"value"`
}

func (r fakeRecord) ImageRef() string { return r.Image }

// scriptedStage is a ports.Stage whose per-item behaviour is decided by a
// callback receiving the item index and its 1-based attempt number.
type scriptedStage struct {
	name   string
	images []string
	fn     func(index, attempt int) error

	mu       sync.Mutex
	attempts map[int]int
	calls    int
}

var _ ports.Stage = (*scriptedStage)(nil)

func newScriptedStage(n int, fn func(index, attempt int) error) *scriptedStage {
	images := make([]string, n)
	for i := range images {
		images[i] = fmt.Sprintf("images/%d.jpg", i)
	}
	return &scriptedStage{name: "fake", images: images, fn: fn, attempts: make(map[int]int)}
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Len() int { return len(s.images) }

func (s *scriptedStage) Process(_ context.Context, index int) (any, error) {
	s.mu.Lock()
	s.attempts[index]++
	s.calls++
	attempt := s.attempts[index]
	s.mu.Unlock()

	if s.fn != nil {
		if err := s.fn(index, attempt); err != nil {
			return nil, err
		}
	}
	return fakeRecord{Image: s.images[index], Value: fmt.Sprintf("value-%d", index)}, nil
}

func (s *scriptedStage) Marshal(record any) ([]byte, error) { return json.Marshal(record) }

func (s *scriptedStage) Collect(data []byte) (ports.Collected, error) {
	var rec fakeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ports.Collected{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if rec.Image == "" || rec.Value == "" {
		return ports.Collected{}, fmt.Errorf("%w: missing field", domain.ErrMalformedRecord)
	}
	return ports.Collected{Rows: []ports.Row{rec}}, nil
}

func (s *scriptedStage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedStage) attemptsFor(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[index]
}
