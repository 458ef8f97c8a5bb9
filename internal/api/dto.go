package api

import (
	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/registry"
)

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Key  string             `json:"key"`
	User engine.UserContext `json:"user"`
}

// EvaluateResponse carries one assignment. Error is set when an override was
// malformed; Assignment is then the fail-safe default.
type EvaluateResponse struct {
	Assignment engine.Assignment `json:"assignment"`
	ETag       string            `json:"etag"`
	Error      *AssignmentError  `json:"error,omitempty"`
}

// AssignmentsRequest is the body of POST /v1/assignments.
type AssignmentsRequest struct {
	User engine.UserContext `json:"user"`
}

type AssignmentsResponse struct {
	Assignments []engine.Assignment `json:"assignments"`
	Count       int                 `json:"count"`
	ETag        string              `json:"etag"`
}

// RegistryResponse is the body of GET /v1/registry.
type RegistryResponse struct {
	ETag        string                          `json:"etag"`
	Flags       []registry.FlagDefinition       `json:"flags"`
	Experiments []registry.ExperimentDefinition `json:"experiments"`
	Segments    []registry.SegmentRule          `json:"segments,omitempty"`
}

// ExposureRequest is the body of POST /v1/events/exposure. The key is
// evaluated server-side and the resulting decision is what gets recorded.
type ExposureRequest struct {
	Key  string             `json:"key"`
	User engine.UserContext `json:"user"`
}

type ExposureResponse struct {
	Assignment engine.Assignment `json:"assignment"`
	Recorded   bool              `json:"recorded"`
}

// ConversionRequest is the body of POST /v1/events/conversion.
type ConversionRequest struct {
	Key    string             `json:"key"`
	User   engine.UserContext `json:"user"`
	Metric string             `json:"metric,omitempty"`
}

// MetricRequest is the body of POST /v1/events/metric.
type MetricRequest struct {
	Key    string             `json:"key"`
	User   engine.UserContext `json:"user"`
	Metric string             `json:"metric"`
	Value  *float64           `json:"value"`
}

// EventResponse reports whether an event was queued. False means it was a
// duplicate exposure or was dropped under backpressure.
type EventResponse struct {
	Recorded bool `json:"recorded"`
}
