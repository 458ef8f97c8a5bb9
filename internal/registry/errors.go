package registry

import (
	"errors"

	"github.com/TimurManjosov/goassign/internal/validation"
)

// ErrInvalidConfig is wrapped by every load-time registry failure.
var ErrInvalidConfig = errors.New("invalid registry configuration")

// ErrUnknownKey is returned by typed lookups for keys the registry does not hold.
var ErrUnknownKey = errors.New("unknown flag or experiment key")

// ConfigError lists every problem found while validating definitions.
type ConfigError struct {
	Fields map[string]string
}

func newConfigError(result *validation.ValidationResult) *ConfigError {
	return &ConfigError{Fields: result.Errors}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	result := validation.NewValidationResult()
	for field, msg := range e.Fields {
		result.AddError(field, msg)
	}
	return ErrInvalidConfig.Error() + ": " + result.String()
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
