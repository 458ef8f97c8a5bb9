// Package store provides the sources a registry is loaded from at startup:
// a YAML/JSON file, an in-memory set, or PostgreSQL tables.
package store

import (
	"context"
	"fmt"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// Source yields registry definitions. Implementations must be safe for
// concurrent use.
type Source interface {
	// Load returns the current definitions. Definitions are not validated;
	// pass them to registry.New.
	Load(ctx context.Context) (registry.Definitions, error)

	// Close releases any resources held by the source.
	Close() error
}

// Writer persists a full set of definitions, replacing what was stored.
type Writer interface {
	Save(ctx context.Context, defs registry.Definitions) error
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Writer
}

// LoadRegistry loads definitions from src and builds a validated registry.
// Any validation failure wraps registry.ErrInvalidConfig.
func LoadRegistry(ctx context.Context, src Source) (*registry.Registry, error) {
	defs, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	return registry.New(defs)
}
