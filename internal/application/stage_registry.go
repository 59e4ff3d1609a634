package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-rationale/internal/ports"
)

// StageFactory builds a stage on demand. Factories run lazily because a
// stage's manifest is usually the dataset of the stage before it.
type StageFactory func(ctx context.Context) (ports.Stage, error)

// StageRegistry maps stage names to factories and remembers registration
// order, which is also pipeline order.
type StageRegistry struct {
	// mu protects concurrent access to the factories map.
	mu        sync.RWMutex
	factories map[string]StageFactory
	order     []string
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{factories: make(map[string]StageFactory)}
}

// Register adds a factory under name. Registering the same name twice is an
// error so that pipeline order stays unambiguous.
func (r *StageRegistry) Register(name string, factory StageFactory) error {
	if name == "" {
		return fmt.Errorf("stage name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("stage factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("stage %s is already registered", name)
	}
	r.factories[name] = factory
	r.order = append(r.order, name)
	return nil
}

// Factory returns the factory registered under name.
func (r *StageRegistry) Factory(name string) (StageFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown stage: %s", name)
	}
	return f, nil
}

// Create builds the stage registered under name.
func (r *StageRegistry) Create(ctx context.Context, name string) (ports.Stage, error) {
	f, err := r.Factory(name)
	if err != nil {
		return nil, err
	}
	return f(ctx)
}

// Names returns the registered stage names in registration order.
func (r *StageRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
