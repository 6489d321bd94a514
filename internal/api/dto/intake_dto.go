package dto

import (
	"time"

	"github.com/sapphire/support-core/internal/domain"
)

// IntakeRequest is a normalized inbound message with the classifier's verdict attached.
type IntakeRequest struct {
	TenantID       string                `json:"tenant_id"`
	Source         domain.IntakeSource   `json:"source"`
	FromEmail      string                `json:"from_email"`
	Subject        string                `json:"subject"`
	BodyText       string                `json:"body_text"`
	Classification ClassificationRequest `json:"classification"`
}

// ClassificationRequest is stored as received.
type ClassificationRequest struct {
	Intent            domain.Intent        `json:"intent"`
	Urgency           domain.Urgency       `json:"urgency"`
	Confidence        float64              `json:"confidence"`
	ComplianceFlag    bool                 `json:"compliance_flag"`
	RecommendedAction domain.RoutingAction `json:"recommended_action"`
	ModelUsed         string               `json:"model_used"`
}

// IntakeResponse reports the routing decision.
type IntakeResponse struct {
	IntakeID  string               `json:"intake_id"`
	TenantID  string               `json:"tenant_id"`
	Action    domain.RoutingAction `json:"action"`
	Tier      domain.PlanTier      `json:"tier"`
	CaseID    *string              `json:"case_id"`
	DecidedAt time.Time            `json:"decided_at"`
	Case      *CaseResponse        `json:"case,omitempty"`
}
