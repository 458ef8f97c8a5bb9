package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a serialization format for static definitions.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from a file extension; anything that is
// not .json is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode reads definitions in the given format. Unknown fields are rejected
// so that typos in the static configuration fail at load time.
func Decode(r io.Reader, format Format) (Definitions, error) {
	var defs Definitions
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&defs); err != nil {
			return Definitions{}, fmt.Errorf("%w: decode json: %v", ErrInvalidConfig, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&defs); err != nil && err != io.EOF {
			return Definitions{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
		}
	default:
		return Definitions{}, fmt.Errorf("unsupported registry format: %s", format)
	}
	return defs, nil
}

// Parse decodes and validates definitions from raw bytes.
func Parse(data []byte, format Format) (*Registry, error) {
	defs, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, err
	}
	return New(defs)
}

// ReadFile decodes definitions from a file without validating them.
func ReadFile(path string) (Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("open registry file: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatFromPath(path))
}

// LoadFile decodes and validates a registry file.
func LoadFile(path string) (*Registry, error) {
	defs, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(defs)
}

// Encode writes definitions in the given format.
func Encode(w io.Writer, defs Definitions, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(defs)
	default:
		return fmt.Errorf("unsupported registry format: %s", format)
	}
}
