package store

import (
	"context"
	"fmt"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// FileSource reads definitions from a YAML or JSON file on every Load. The
// format follows the file extension.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (registry.Definitions, error) {
	defs, err := registry.ReadFile(f.Path)
	if err != nil {
		return registry.Definitions{}, fmt.Errorf("registry file %s: %w", f.Path, err)
	}
	return defs, nil
}

func (FileSource) Close() error { return nil }
