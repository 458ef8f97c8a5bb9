package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/TimurManjosov/goassign/internal/engine"
	"github.com/TimurManjosov/goassign/internal/registry"
)

// EventType distinguishes the three telemetry streams.
type EventType string

const (
	EventExposure   EventType = "exposure"
	EventConversion EventType = "conversion"
	EventMetric     EventType = "metric"
)

// Event is the record delivered to sinks. The JSON shape is append-only:
// fields may be added but never change meaning.
type Event struct {
	ID               string        `json:"id"`
	Type             EventType     `json:"type"`
	SubjectKey       string        `json:"subjectKey"`
	Kind             registry.Kind `json:"kind,omitempty"`
	VariantOrEnabled any           `json:"variantOrEnabled,omitempty"`
	Source           engine.Source `json:"source,omitempty"`
	Identity         string        `json:"identity"`
	SessionID        string        `json:"sessionId"`
	Timestamp        time.Time     `json:"timestamp"`
	MetricName       string        `json:"metricName,omitempty"`
	Value            *float64      `json:"value,omitempty"`
}

// Batch is one delivery unit. ID is stable across retries of the same batch
// so receivers can drop duplicates.
type Batch struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sentAt"`
	Events []Event   `json:"events"`
}

func newEvent(typ EventType, key string, uc engine.UserContext, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SubjectKey: key,
		Identity:   uc.Identity(),
		SessionID:  uc.SessionID,
		Timestamp:  now,
	}
}
