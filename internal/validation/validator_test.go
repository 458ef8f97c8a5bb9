package validation

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantValid   bool
		wantMessage string
	}{
		{
			name:      "valid alphanumeric",
			key:       "beta_checkout_2",
			wantValid: true,
		},
		{
			name:      "valid with hyphen",
			key:       "hero-style",
			wantValid: true,
		},
		{
			name:        "empty key",
			key:         "",
			wantValid:   false,
			wantMessage: "Key is required",
		},
		{
			name:        "whitespace only",
			key:         "   ",
			wantValid:   false,
			wantMessage: "Key is required",
		},
		{
			name:        "too long",
			key:         strings.Repeat("a", 65),
			wantValid:   false,
			wantMessage: "Key must not exceed 64 characters",
		},
		{
			name:        "surrounding whitespace",
			key:         " beta_checkout ",
			wantValid:   false,
			wantMessage: "Key must contain only alphanumeric characters, underscores, and hyphens",
		},
		{
			name:      "exactly 64 chars",
			key:       strings.Repeat("a", 64),
			wantValid: true,
		},
		{
			name:        "contains colon",
			key:         "hero:style",
			wantValid:   false,
			wantMessage: "Key must contain only alphanumeric characters, underscores, and hyphens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateKey("flags[0].name", tt.key)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateKey(%q).Valid = %v, want %v", tt.key, result.Valid, tt.wantValid)
			}
			if !tt.wantValid && result.Errors["flags[0].name"] != tt.wantMessage {
				t.Errorf("ValidateKey(%q) message = %q, want %q", tt.key, result.Errors["flags[0].name"], tt.wantMessage)
			}
		})
	}
}

func TestValidateDescription(t *testing.T) {
	if r := ValidateDescription("d", strings.Repeat("x", 500)); !r.Valid {
		t.Error("500 characters should be valid")
	}
	if r := ValidateDescription("d", strings.Repeat("x", 501)); r.Valid {
		t.Error("501 characters should be invalid")
	}
}

func TestValidateVariants(t *testing.T) {
	tests := []struct {
		name      string
		names     []string
		weights   []int
		wantValid bool
		wantSub   string
	}{
		{
			name:      "three way split",
			names:     []string{"control", "animated", "cinematic"},
			weights:   []int{34, 33, 33},
			wantValid: true,
		},
		{
			name:      "zero weight arm is allowed",
			names:     []string{"control", "treatment"},
			weights:   []int{100, 0},
			wantValid: true,
		},
		{
			name:    "single variant",
			names:   []string{"control"},
			weights: []int{100},
			wantSub: "at least 2 variants",
		},
		{
			name:    "misaligned weights",
			names:   []string{"control", "treatment"},
			weights: []int{100},
			wantSub: "must align",
		},
		{
			name:    "sum below 100",
			names:   []string{"control", "treatment"},
			weights: []int{50, 30},
			wantSub: "must sum to 100, got 80",
		},
		{
			name:    "negative weight",
			names:   []string{"control", "treatment"},
			weights: []int{-10, 110},
			wantSub: "must not be negative",
		},
		{
			name:    "duplicate name",
			names:   []string{"control", "control"},
			weights: []int{50, 50},
			wantSub: "Duplicate variant name: control",
		},
		{
			name:    "empty name",
			names:   []string{"control", " "},
			weights: []int{50, 50},
			wantSub: "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateVariants("variants", tt.names, tt.weights)
			if result.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (%s)", result.Valid, tt.wantValid, result.String())
			}
			if tt.wantSub != "" && !strings.Contains(result.Errors["variants"], tt.wantSub) {
				t.Errorf("message %q does not contain %q", result.Errors["variants"], tt.wantSub)
			}
		})
	}
}

func TestValidationResult_MergeKeepsFirstMessage(t *testing.T) {
	a := NewValidationResult()
	a.AddError("key", "first")
	b := NewValidationResult()
	b.AddError("key", "second")
	b.AddError("other", "x")

	a.Merge(b)

	if a.Errors["key"] != "first" {
		t.Errorf("expected first message to win, got %q", a.Errors["key"])
	}
	if got := a.String(); got != "key: first; other: x" {
		t.Errorf("String() = %q", got)
	}
}
