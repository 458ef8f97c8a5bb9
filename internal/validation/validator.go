// Package validation provides field-level validation rules for flag and
// experiment definitions.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the maximum length for flag and experiment keys
	MaxKeyLength = 64
	// MaxDescriptionLength is the maximum length for descriptions
	MaxDescriptionLength = 500
	// MaxVariantNameLength is the maximum length for variant names
	MaxVariantNameLength = 64
	// MinVariants is the minimum number of variants an experiment must declare
	MinVariants = 2
	// TotalWeight is the sum every experiment's weights must reach
	TotalWeight = 100
)

// keyPattern matches alphanumeric characters, underscores, and hyphens
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid.
// The first message recorded for a field wins.
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	if _, exists := v.Errors[field]; !exists {
		v.Errors[field] = message
	}
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// Fields returns the failing field names in sorted order.
func (v *ValidationResult) Fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// String renders the errors as "field: message; ..." in field order.
func (v *ValidationResult) String() string {
	parts := make([]string, 0, len(v.Errors))
	for _, field := range v.Fields() {
		parts = append(parts, field+": "+v.Errors[field])
	}
	return strings.Join(parts, "; ")
}

// ValidateKey validates a flag or experiment key under the given field name.
func ValidateKey(field, key string) *ValidationResult {
	result := NewValidationResult()
	if strings.TrimSpace(key) == "" {
		result.AddError(field, "Key is required")
		return result
	}

	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError(field, "Key must not exceed 64 characters")
		return result
	}

	if !keyPattern.MatchString(key) {
		result.AddError(field, "Key must contain only alphanumeric characters, underscores, and hyphens")
		return result
	}

	return result
}

// ValidateDescription validates a definition description
func ValidateDescription(field, description string) *ValidationResult {
	result := NewValidationResult()

	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		result.AddError(field, "Description must not exceed 500 characters")
	}

	return result
}

// ValidateVariants validates an experiment's variant names and weights.
//
// Rules:
//   - at least MinVariants variants
//   - exactly one weight per variant
//   - names non-empty, unique, at most MaxVariantNameLength runes
//   - weights non-negative and summing to TotalWeight
//
// Weights are never normalized: a sum other than 100 is an error.
func ValidateVariants(field string, names []string, weights []int) *ValidationResult {
	result := NewValidationResult()

	if len(names) < MinVariants {
		result.AddError(field, fmt.Sprintf("Experiment must declare at least %d variants, got %d", MinVariants, len(names)))
		return result
	}
	if len(names) != len(weights) {
		result.AddError(field, fmt.Sprintf("Variants and weights must align: %d variants, %d weights", len(names), len(weights)))
		return result
	}

	totalWeight := 0
	seenNames := make(map[string]bool, len(names))

	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			result.AddError(field, "Variant name cannot be empty")
			return result
		}

		if utf8.RuneCountInString(name) > MaxVariantNameLength {
			result.AddError(field, "Variant name must not exceed 64 characters")
			return result
		}

		if seenNames[name] {
			result.AddError(field, "Duplicate variant name: "+name)
			return result
		}
		seenNames[name] = true

		if weights[i] < 0 {
			result.AddError(field, "Variant weight must not be negative")
			return result
		}
		totalWeight += weights[i]
	}

	if totalWeight != TotalWeight {
		result.AddError(field, fmt.Sprintf("Variant weights must sum to 100, got %d", totalWeight))
	}

	return result
}
