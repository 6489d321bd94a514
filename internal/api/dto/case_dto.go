package dto

import (
	"time"

	"github.com/sapphire/support-core/internal/domain"
)

// CreateCaseRequest payload.
type CreateCaseRequest struct {
	TenantID string              `json:"tenant_id"`
	Title    string              `json:"title"`
	Category domain.CaseCategory `json:"category"`
	Priority domain.CasePriority `json:"priority"`
	IntakeID *string             `json:"intake_id"`
}

// TransitionCaseRequest payload.
type TransitionCaseRequest struct {
	TargetStatus domain.CaseStatus `json:"target_status"`
	Note         string            `json:"note"`
}

// ReopenCaseRequest payload.
type ReopenCaseRequest struct {
	Reason string `json:"reason"`
}

// CaseResponse is the case cache as stored.
type CaseResponse struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	Title           string              `json:"title"`
	Status          domain.CaseStatus   `json:"status"`
	Priority        domain.CasePriority `json:"priority"`
	Category        domain.CaseCategory `json:"category"`
	CreatedBy       string              `json:"created_by"`
	OwnerID         *string             `json:"owner_id"`
	FirstResponseAt *time.Time          `json:"first_response_at"`
	ResolvedAt      *time.Time          `json:"resolved_at"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// CaseMutationResponse wraps a case after a mutation.
type CaseMutationResponse struct {
	Case           CaseResponse `json:"case"`
	AlreadyApplied bool         `json:"already_applied"`
}

// SLAClockResponse is one budget.
type SLAClockResponse struct {
	BudgetMinutes  float64    `json:"budget_minutes"`
	ElapsedMinutes float64    `json:"elapsed_minutes"`
	Remaining      float64    `json:"remaining"`
	Breached       bool       `json:"breached"`
	MetAt          *time.Time `json:"met_at"`
}

// SLAStatusResponse is the dashboard view of a case's SLA.
type SLAStatusResponse struct {
	CaseID           string            `json:"case_id"`
	Status           domain.CaseStatus `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	Paused           bool              `json:"paused"`
	PausedMinutes    float64           `json:"paused_minutes"`
	FirstResponse    SLAClockResponse  `json:"first_response"`
	Resolution       SLAClockResponse  `json:"resolution"`
	BreachSuppressed bool              `json:"breach_suppressed"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
}

// EventResponse is one log entry.
type EventResponse struct {
	ID         string            `json:"id"`
	Sequence   int64             `json:"sequence"`
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	TenantID   string            `json:"tenant_id"`
	CaseID     *string           `json:"case_id,omitempty"`
	IntakeID   *string           `json:"intake_id,omitempty"`
	Type       domain.EventType  `json:"type"`
	Actor      domain.Actor      `json:"actor"`
	Payload    map[string]any    `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewCaseResponse maps a case.
func NewCaseResponse(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Title:           c.Title,
		Status:          c.Status,
		Priority:        c.Priority,
		Category:        c.Category,
		CreatedBy:       c.CreatedBy,
		OwnerID:         c.OwnerID,
		FirstResponseAt: c.FirstResponseAt,
		ResolvedAt:      c.ResolvedAt,
		Version:         c.Version,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// NewSLAStatusResponse maps the SLA read model; durations are rendered in minutes.
func NewSLAStatusResponse(s *domain.SLAStatus) SLAStatusResponse {
	return SLAStatusResponse{
		CaseID:           s.CaseID,
		Status:           s.Status,
		StartedAt:        s.StartedAt,
		Paused:           s.Paused,
		PausedMinutes:    s.PausedTotal.Minutes(),
		FirstResponse:    newSLAClockResponse(s.FirstResponse),
		Resolution:       newSLAClockResponse(s.Resolution),
		BreachSuppressed: s.BreachSuppressed,
		EvaluatedAt:      s.EvaluatedAt,
	}
}

func newSLAClockResponse(c domain.SLAClock) SLAClockResponse {
	return SLAClockResponse{
		BudgetMinutes:  c.Budget.Minutes(),
		ElapsedMinutes: c.Elapsed.Minutes(),
		Remaining:      c.Remaining,
		Breached:       c.Breached,
		MetAt:          c.MetAt,
	}
}

// NewEventResponses maps a log.
func NewEventResponses(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID:         ev.ID,
			Sequence:   ev.Sequence,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			TenantID:   ev.TenantID,
			CaseID:     ev.CaseID,
			IntakeID:   ev.IntakeID,
			Type:       ev.Type,
			Actor:      ev.Actor,
			Payload:    ev.Payload,
			OccurredAt: ev.OccurredAt,
		})
	}
	return out
}
