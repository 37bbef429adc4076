package onboarding

import (
	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
)

// EventType names what changed.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventMessageAppended EventType = "message_appended"
	EventMessageUpdated  EventType = "message_updated"
	EventFault           EventType = "fault"
	EventCompleted       EventType = "completed"
)

// Fault is the user-facing view of a failed step.
type Fault struct {
	Op        string       `json:"op"`
	Kind      gateway.Kind `json:"kind"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
	// SampleAvailable is always true: the user may fall back to sample data
	// from any failure.
	SampleAvailable bool `json:"sampleAvailable"`
}

// Completion is the single terminal output of a session. Recommendations is
// nil when the user declined.
type Completion struct {
	Persona         persona.Persona     `json:"persona,omitempty"`
	Recommendations *recommendation.Set `json:"recommendations,omitempty"`
	Declined        bool                `json:"declined"`
}

// Event is delivered to subscribers in the order the controller applied it.
type Event struct {
	Type       EventType     `json:"type"`
	State      State         `json:"state,omitempty"`
	Message    *chat.Message `json:"message,omitempty"`
	Index      *int          `json:"index,omitempty"`
	Fault      *Fault        `json:"fault,omitempty"`
	Completion *Completion   `json:"completion,omitempty"`
}
