package domain

import (
	"strings"
	"time"
)

// IntakeSource identifies the channel an intake arrived on.
type IntakeSource string

const (
	IntakeSourceEmail  IntakeSource = "email"
	IntakeSourcePortal IntakeSource = "portal"
)

// Intent is the classified purpose of an intake.
type Intent string

const (
	IntentSales      Intent = "sales"
	IntentSupport    Intent = "support"
	IntentOnboarding Intent = "onboarding"
	IntentBilling    Intent = "billing"
	IntentCompliance Intent = "compliance"
	IntentOutage     Intent = "outage"
	IntentUnknown    Intent = "unknown"
)

// ParseIntent maps unrecognized values to unknown.
func ParseIntent(raw string) Intent {
	switch i := Intent(strings.ToLower(strings.TrimSpace(raw))); i {
	case IntentSales, IntentSupport, IntentOnboarding, IntentBilling, IntentCompliance, IntentOutage:
		return i
	}
	return IntentUnknown
}

// Urgency is the classified urgency of an intake.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency falls back to normal.
func ParseUrgency(raw string) Urgency {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(raw))); u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return u
	}
	return UrgencyNormal
}

// Priority maps urgency onto case priority.
func (u Urgency) Priority() CasePriority {
	switch u {
	case UrgencyLow:
		return CasePriorityLow
	case UrgencyHigh:
		return CasePriorityHigh
	case UrgencyCritical:
		return CasePriorityCritical
	}
	return CasePriorityNormal
}

// RoutingAction is the outcome of the routing decision.
type RoutingAction string

const (
	ActionSelfService RoutingAction = "self_service"
	ActionCreateCase  RoutingAction = "create_case"
	ActionRouteSales  RoutingAction = "route_sales"
	ActionEscalateOps RoutingAction = "escalate_ops"
	ActionNeedsReview RoutingAction = "needs_review"
)

// Intake is a normalized inbound message.
type Intake struct {
	ID        string
	Source    IntakeSource
	TenantID  string
	FromEmail string
	Subject   string
	BodyText  string
	CreatedAt time.Time
}

// Classification is the immutable record produced by the AI collaborator.
type Classification struct {
	ID                string
	IntakeID          string
	Intent            Intent
	Urgency           Urgency
	Confidence        float64
	ComplianceFlag    bool
	RecommendedAction RoutingAction
	ModelUsed         string
	CreatedAt         time.Time
}

// RoutingDecision is persisted once per intake.
type RoutingDecision struct {
	IntakeID  string
	Action    RoutingAction
	Tier      PlanTier
	CaseID    *string
	DecidedAt time.Time
}
