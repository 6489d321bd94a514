package events

import (
	"time"

	"github.com/sapphire/support-core/internal/domain"
)

// Envelope is the wire form of a log event.
type Envelope struct {
	ID         string         `json:"id"`
	Sequence   int64          `json:"sequence"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	TenantID   string         `json:"tenant_id"`
	CaseID     *string        `json:"case_id,omitempty"`
	IntakeID   *string        `json:"intake_id,omitempty"`
	Type       string         `json:"type"`
	Actor      domain.Actor   `json:"actor"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEnvelope converts a log event.
func NewEnvelope(ev domain.Event) Envelope {
	return Envelope{
		ID:         ev.ID,
		Sequence:   ev.Sequence,
		EntityType: string(ev.EntityType),
		EntityID:   ev.EntityID,
		TenantID:   ev.TenantID,
		CaseID:     ev.CaseID,
		IntakeID:   ev.IntakeID,
		Type:       string(ev.Type),
		Actor:      ev.Actor,
		Payload:    ev.Payload,
		OccurredAt: ev.OccurredAt,
	}
}

// Event converts the envelope back into a log event.
func (e Envelope) Event() domain.Event {
	return domain.Event{
		ID:         e.ID,
		Sequence:   e.Sequence,
		EntityType: domain.EntityType(e.EntityType),
		EntityID:   e.EntityID,
		TenantID:   e.TenantID,
		CaseID:     e.CaseID,
		IntakeID:   e.IntakeID,
		Type:       domain.EventType(e.Type),
		Actor:      e.Actor,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt,
	}
}
