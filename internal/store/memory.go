package store

import (
	"context"
	"slices"
	"sync"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// MemoryStore keeps definitions in memory. Suitable for tests, demos and
// embedding a registry compiled into the binary.
type MemoryStore struct {
	mu   sync.RWMutex
	defs registry.Definitions
}

// NewMemoryStore returns a store seeded with defs.
func NewMemoryStore(defs registry.Definitions) *MemoryStore {
	return &MemoryStore{defs: cloneDefinitions(defs)}
}

func (m *MemoryStore) Load(_ context.Context) (registry.Definitions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneDefinitions(m.defs), nil
}

// Save replaces the stored definitions after validating them.
func (m *MemoryStore) Save(_ context.Context, defs registry.Definitions) error {
	if _, err := registry.New(defs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs = cloneDefinitions(defs)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneDefinitions(d registry.Definitions) registry.Definitions {
	out := registry.Definitions{
		Flags:       make([]registry.FlagDefinition, len(d.Flags)),
		Experiments: make([]registry.ExperimentDefinition, len(d.Experiments)),
		Segments:    slices.Clone(d.Segments),
	}
	for i, f := range d.Flags {
		f.Segments = slices.Clone(f.Segments)
		out.Flags[i] = f
	}
	for i, e := range d.Experiments {
		e.Variants = slices.Clone(e.Variants)
		e.Weights = slices.Clone(e.Weights)
		out.Experiments[i] = e
	}
	return out
}
