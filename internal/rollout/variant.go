package rollout

import (
	"errors"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// ErrInvalidVariantWeights is returned when variant weights don't sum to 100
// or don't align with the variants.
var ErrInvalidVariantWeights = errors.New("variant weights must sum to 100")

// Boundaries returns the cumulative upper bounds of the weights in
// declaration order, e.g. [34,33,33] → [34,67,100].
func Boundaries(weights []int) []int {
	bounds := make([]int, len(weights))
	cumulative := 0
	for i, w := range weights {
		cumulative += w
		bounds[i] = cumulative
	}
	return bounds
}

// SelectVariant assigns a variant from the bucket using cumulative weight ranges.
//
// Example: variants = [A:50, B:30, C:20]
//   - bucket 0-49  → A
//   - bucket 50-79 → B
//   - bucket 80-99 → C
//
// Inactive experiments always return the control variant. Weights that do not
// sum to 100 are a configuration error and are never normalized; the registry
// refuses to load them, and SelectVariant reports ErrInvalidVariantWeights
// with the control variant if handed one anyway.
func SelectVariant(exp registry.ExperimentDefinition, bucket int) (string, error) {
	if !exp.Active {
		return exp.Control(), nil
	}
	if len(exp.Variants) == 0 || len(exp.Variants) != len(exp.Weights) {
		return exp.Control(), ErrInvalidVariantWeights
	}

	bounds := Boundaries(exp.Weights)
	if bounds[len(bounds)-1] != Buckets {
		return exp.Control(), ErrInvalidVariantWeights
	}

	for i, bound := range bounds {
		if bucket < bound {
			return exp.Variants[i], nil
		}
	}
	// Out-of-range bucket; only reachable with a misbehaving Hasher.
	return exp.Control(), nil
}
