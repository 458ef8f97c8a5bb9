package store

import (
	"context"
	"fmt"

	mydb "github.com/TimurManjosov/goassign/internal/db"
	"github.com/TimurManjosov/goassign/internal/registry"
)

// Source kinds accepted by NewSource.
const (
	SourceKindFile     = "file"
	SourceKindPostgres = "postgres"
	SourceKindMemory   = "memory"
)

// NewSource creates a registry source by kind.
// Supported kinds: "file" (path), "postgres" (dsn), "memory" (empty).
func NewSource(ctx context.Context, kind, path, dsn string) (Source, error) {
	switch kind {
	case SourceKindFile:
		return FileSource{Path: path}, nil
	case SourceKindMemory:
		return NewMemoryStore(registry.Definitions{}), nil
	case SourceKindPostgres:
		pool, err := mydb.NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported registry source: %s", kind)
	}
}
