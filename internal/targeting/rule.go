// Package targeting derives segment membership from JSON Logic rules
// (jsonlogic.com), e.g. placing every staff email into the internal segment.
package targeting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
)

var (
	ErrEmptyExpression   = errors.New("invalid expression: empty or whitespace")
	ErrInvalidExpression = errors.New("invalid expression: not valid JSON Logic")
)

// UserContext is the data a rule sees. The engine provides userId,
// sessionId, email (strings, possibly empty) and segments ([]string).
type UserContext map[string]any

// Rule is a JSON Logic expression that has been checked to parse and apply.
// The zero Rule never matches.
type Rule struct {
	src []byte
}

// Compile checks expression and returns it as a Rule. The expression must
// be a JSON object.
func Compile(expression string) (Rule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Rule{}, ErrEmptyExpression
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(expression), &obj); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	r := Rule{src: []byte(expression)}
	if _, err := r.apply([]byte("{}")); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// ValidateExpression reports whether expression compiles.
func ValidateExpression(expression string) error {
	_, err := Compile(expression)
	return err
}

// Match applies the rule to ctx using JavaScript truthiness on the result.
func (r Rule) Match(ctx UserContext) (bool, error) {
	if len(r.src) == 0 {
		return false, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return false, fmt.Errorf("encode rule context: %w", err)
	}
	result, err := r.apply(data)
	if err != nil {
		return false, err
	}
	return truthy(result), nil
}

func (r Rule) apply(data []byte) (any, error) {
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(r.src), bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	var result any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode rule result: %w", err)
	}
	return result, nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
