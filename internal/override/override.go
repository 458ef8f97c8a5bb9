// Package override applies explicit per-user or per-session assignments ahead
// of computed decisions.
//
// Overrides are opaque values keyed by flag or experiment name: bool for
// flags, a variant name for experiments. They are supplied by the caller
// (typically parsed from a debug query parameter or a local developer
// setting) and never read from I/O by this package.
package override

import (
	"errors"
	"fmt"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// ErrInvalidOverride is wrapped by every malformed-override error.
var ErrInvalidOverride = errors.New("invalid override")

// Error describes an override that is present but malformed.
type Error struct {
	Key    string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s for %q (%v): %s", ErrInvalidOverride, e.Key, e.Value, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalidOverride }

// Lookup returns the raw override for key.
func Lookup(key string, overrides map[string]any) (any, bool) {
	if overrides == nil {
		return nil, false
	}
	v, ok := overrides[key]
	return v, ok
}

// Flag resolves an override for a flag.
//
// Returns (value, true, nil) for a bool override, (false, false, nil) when no
// override is present, and (false, true, *Error) when one is present with the
// wrong type.
func Flag(def registry.FlagDefinition, overrides map[string]any) (bool, bool, error) {
	raw, ok := Lookup(def.Name, overrides)
	if !ok {
		return false, false, nil
	}
	v, isBool := raw.(bool)
	if !isBool {
		return false, true, &Error{Key: def.Name, Value: raw, Reason: "flag overrides must be boolean"}
	}
	return v, true, nil
}

// Experiment resolves an override for an experiment.
//
// The value must be a string naming one of the experiment's declared
// variants. An unknown variant is an error rather than being accepted, so a
// typo cannot silently render a control-equivalent state.
func Experiment(def registry.ExperimentDefinition, overrides map[string]any) (string, bool, error) {
	raw, ok := Lookup(def.Name, overrides)
	if !ok {
		return "", false, nil
	}
	v, isString := raw.(string)
	if !isString {
		return "", true, &Error{Key: def.Name, Value: raw, Reason: "experiment overrides must name a variant"}
	}
	if !def.HasVariant(v) {
		return "", true, &Error{Key: def.Name, Value: raw, Reason: fmt.Sprintf("variant not in %v", def.Variants)}
	}
	return v, true, nil
}

// Merge combines override layers; later layers win on conflicting keys.
// Nil layers are skipped. The result is a new map.
func Merge(layers ...map[string]any) map[string]any {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(map[string]any, size)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}
