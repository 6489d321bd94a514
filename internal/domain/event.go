package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies which aggregate an event belongs to.
type EntityType string

const (
	EntityCase       EntityType = "case"
	EntityOnboarding EntityType = "onboarding"
	EntityTenant     EntityType = "tenant"
	EntityIntake     EntityType = "intake"
)

// EventType names a state-changing fact recorded in the event log.
type EventType string

const (
	EventCaseCreated       EventType = "case.created"
	EventCaseStatusChanged EventType = "case.status_changed"
	EventCaseReopened      EventType = "case.reopened"

	EventSLAStarted               EventType = "sla.started"
	EventSLAFirstResponse         EventType = "sla.first_response"
	EventSLABreachedFirstResponse EventType = "sla.breached_first_response"
	EventSLABreachedResolution    EventType = "sla.breached_resolution"
	EventSLAPaused                EventType = "sla.paused"
	EventSLAResumed               EventType = "sla.resumed"

	EventOnboardingStarted       EventType = "onboarding.started"
	EventOnboardingStepCompleted EventType = "onboarding.step_completed"
	EventOnboardingPhaseAdvanced EventType = "onboarding.phase_advanced"
	EventOnboardingPaused        EventType = "onboarding.paused"
	EventOnboardingResumed       EventType = "onboarding.resumed"
	EventOnboardingCompleted     EventType = "onboarding.completed"
	EventOnboardingFailed        EventType = "onboarding.failed"

	EventTenantCreated     EventType = "tenant.created"
	EventTenantTierChanged EventType = "tenant.tier_changed"

	EventIntakeReceived EventType = "intake.received"
	EventIntakeRouted   EventType = "intake.routed"
	EventCRMLeadCreated EventType = "crm.lead_created"
)

// IsSLA reports whether the event belongs to a case SLA timeline.
func (t EventType) IsSLA() bool {
	switch t {
	case EventSLAStarted, EventSLAFirstResponse, EventSLABreachedFirstResponse,
		EventSLABreachedResolution, EventSLAPaused, EventSLAResumed:
		return true
	}
	return false
}

// ActorType classifies who caused an event.
type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorAgent    ActorType = "agent"
	ActorOps      ActorType = "ops"
	ActorSystem   ActorType = "system"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// SystemActor is used by the breach sweep and automated triggers.
var SystemActor = Actor{Type: ActorSystem}

// Event is an immutable, append-only log record. Sequence is the 1-based position within
// the entity's own log and doubles as the entity version after the event is applied.
type Event struct {
	ID         string
	Sequence   int64
	EntityType EntityType
	EntityID   string
	TenantID   string
	CaseID     *string
	IntakeID   *string
	Type       EventType
	Actor      Actor
	Payload    map[string]any
	OccurredAt time.Time
}

// PayloadString reads a string payload value.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadInt reads an integer payload value. Values that went through JSON arrive as
// float64 or json.Number.
func (e Event) PayloadInt(key string) int {
	if e.Payload == nil {
		return 0
	}
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
