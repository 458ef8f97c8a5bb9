package engine

import (
	"slices"
	"time"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// Source records which path produced an assignment.
type Source string

const (
	SourceOverride Source = "override"
	SourceComputed Source = "computed"
	SourceDefault  Source = "default"
)

// UserContext describes who is being evaluated. It is built by the caller per
// request or session and passed by value; the engine never modifies it.
type UserContext struct {
	// UserID is the stable user identifier; empty for anonymous users.
	UserID string `json:"userId,omitempty"`
	// SessionID identifies the session and is the hashing identity when
	// UserID is empty, giving a bucket that is stable only within the session.
	SessionID string         `json:"sessionId"`
	Email     string         `json:"email,omitempty"`
	Segments  []string       `json:"segments,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// Identity returns the identity used for hashing: UserID, else SessionID.
func (c UserContext) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.SessionID
}

// HasSegment reports whether the context explicitly lists segment id.
func (c UserContext) HasSegment(id string) bool {
	return slices.Contains(c.Segments, id)
}

// Assignment is the decision for one key. Value is a bool for flags and a
// variant name for experiments. Assignments are computed fresh per call.
type Assignment struct {
	Key         string        `json:"key"`
	Kind        registry.Kind `json:"kind"`
	Value       any           `json:"value"`
	Source      Source        `json:"source"`
	EvaluatedAt time.Time     `json:"evaluatedAt"`
}

// Enabled reports a flag assignment's value; false for experiments.
func (a Assignment) Enabled() bool {
	v, _ := a.Value.(bool)
	return v
}

// Variant reports an experiment assignment's variant; "" for flags.
func (a Assignment) Variant() string {
	v, _ := a.Value.(string)
	return v
}

// Clock supplies evaluation timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
