// Package registry holds the static set of flag and experiment definitions.
//
// A Registry is built once from Definitions, validated as a whole, and is
// read-only afterwards; reloading requires building a new Registry. Keys share
// one namespace across flags and experiments so that a key alone identifies
// what to evaluate. All methods are safe for concurrent use.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/TimurManjosov/goassign/internal/targeting"
	"github.com/TimurManjosov/goassign/internal/validation"
)

// Registry is an immutable, validated set of definitions.
type Registry struct {
	flags       map[string]FlagDefinition
	experiments map[string]ExperimentDefinition
	segments    []SegmentRule
	keys        []string
	etag        string
}

// New validates defs and builds a Registry. Any problem is fatal: the
// returned error wraps ErrInvalidConfig and is a *ConfigError.
func New(defs Definitions) (*Registry, error) {
	if result := Validate(defs); !result.Valid {
		return nil, newConfigError(result)
	}

	r := &Registry{
		flags:       make(map[string]FlagDefinition, len(defs.Flags)),
		experiments: make(map[string]ExperimentDefinition, len(defs.Experiments)),
		keys:        make([]string, 0, len(defs.Flags)+len(defs.Experiments)),
	}
	for _, f := range defs.Flags {
		f.RolloutStage, _ = ParseStage(string(f.RolloutStage))
		r.flags[f.Name] = f.clone()
		r.keys = append(r.keys, f.Name)
	}
	for _, e := range defs.Experiments {
		r.experiments[e.Name] = e.clone()
		r.keys = append(r.keys, e.Name)
	}
	r.segments = append([]SegmentRule(nil), defs.Segments...)
	sort.Strings(r.keys)

	etag, err := computeETag(r.Definitions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	r.etag = etag
	return r, nil
}

// MustNew is like New but panics on invalid definitions. Intended for tests
// and compiled-in registries.
func MustNew(defs Definitions) *Registry {
	r, err := New(defs)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks defs without building a registry.
func Validate(defs Definitions) *validation.ValidationResult {
	result := validation.NewValidationResult()
	seen := make(map[string]string)

	claim := func(field, key string) {
		if owner, dup := seen[key]; dup {
			result.AddError(field, fmt.Sprintf("Duplicate key %q (already defined at %s)", key, owner))
			return
		}
		seen[key] = field
	}

	for i, f := range defs.Flags {
		field := fmt.Sprintf("flags[%d]", i)
		keyResult := validation.ValidateKey(field+".name", f.Name)
		result.Merge(keyResult)
		if keyResult.Valid {
			claim(field+".name", f.Name)
		}
		if _, err := ParseStage(string(f.RolloutStage)); err != nil {
			result.AddError(field+".rolloutStage", err.Error())
		}
		for j, seg := range f.Segments {
			result.Merge(validation.ValidateKey(fmt.Sprintf("%s.segments[%d]", field, j), seg))
		}
		result.Merge(validation.ValidateDescription(field+".description", f.Description))
	}

	for i, e := range defs.Experiments {
		field := fmt.Sprintf("experiments[%d]", i)
		keyResult := validation.ValidateKey(field+".name", e.Name)
		result.Merge(keyResult)
		if keyResult.Valid {
			claim(field+".name", e.Name)
		}
		result.Merge(validation.ValidateVariants(field+".variants", e.Variants, e.Weights))
		result.Merge(validation.ValidateDescription(field+".description", e.Description))
	}

	seenSegments := make(map[string]bool, len(defs.Segments))
	for i, s := range defs.Segments {
		field := fmt.Sprintf("segments[%d]", i)
		result.Merge(validation.ValidateKey(field+".id", s.ID))
		if seenSegments[s.ID] {
			result.AddError(field+".id", fmt.Sprintf("Duplicate segment rule %q", s.ID))
		}
		seenSegments[s.ID] = true
		if err := targeting.ValidateExpression(s.Rule); err != nil {
			result.AddError(field+".rule", err.Error())
		}
	}

	return result
}

// Flag returns the flag definition for key.
func (r *Registry) Flag(key string) (FlagDefinition, bool) {
	f, ok := r.flags[key]
	if !ok {
		return FlagDefinition{}, false
	}
	return f.clone(), true
}

// Experiment returns the experiment definition for key.
func (r *Registry) Experiment(key string) (ExperimentDefinition, bool) {
	e, ok := r.experiments[key]
	if !ok {
		return ExperimentDefinition{}, false
	}
	return e.clone(), true
}

// Kind reports what key refers to.
func (r *Registry) Kind(key string) (Kind, bool) {
	if _, ok := r.flags[key]; ok {
		return KindFlag, true
	}
	if _, ok := r.experiments[key]; ok {
		return KindExperiment, true
	}
	return "", false
}

// MustKind is Kind returning ErrUnknownKey for missing keys.
func (r *Registry) MustKind(key string) (Kind, error) {
	kind, ok := r.Kind(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return kind, nil
}

// Keys returns every flag and experiment key in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// SegmentRules returns the configured segment rules in declaration order.
func (r *Registry) SegmentRules() []SegmentRule {
	return append([]SegmentRule(nil), r.segments...)
}

// Len returns the number of flags and experiments.
func (r *Registry) Len() int {
	return len(r.keys)
}

// ETag identifies the registry contents.
func (r *Registry) ETag() string {
	return r.etag
}

// Definitions returns a normalized copy of the registry contents, sorted by key.
func (r *Registry) Definitions() Definitions {
	defs := Definitions{
		Flags:       make([]FlagDefinition, 0, len(r.flags)),
		Experiments: make([]ExperimentDefinition, 0, len(r.experiments)),
		Segments:    r.SegmentRules(),
	}
	for _, key := range r.keys {
		if f, ok := r.flags[key]; ok {
			defs.Flags = append(defs.Flags, f.clone())
			continue
		}
		defs.Experiments = append(defs.Experiments, r.experiments[key].clone())
	}
	return defs
}

func computeETag(defs Definitions) (string, error) {
	blob, err := json.Marshal(defs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, nil
}
