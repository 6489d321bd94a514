package dto

import (
	"time"

	"github.com/sapphire/support-core/internal/domain"
)

// StartOnboardingRequest payload.
type StartOnboardingRequest struct {
	TenantID      string                   `json:"tenant_id"`
	TenantName    string                   `json:"tenant_name"`
	PrimaryDomain string                   `json:"primary_domain"`
	Tier          domain.PlanTier          `json:"tier"`
	TriggerSource domain.OnboardingTrigger `json:"trigger_source"`
}

// AdvanceStepRequest payload.
type AdvanceStepRequest struct {
	StepKey  string         `json:"step_key"`
	Metadata map[string]any `json:"metadata"`
}

// StatusReasonRequest carries the reason for pause and fail.
type StatusReasonRequest struct {
	Reason string `json:"reason"`
}

// ChangeTierRequest payload.
type ChangeTierRequest struct {
	PreviousTier  domain.PlanTier          `json:"previous_tier"`
	NewTier       domain.PlanTier          `json:"new_tier"`
	TriggerSource domain.OnboardingTrigger `json:"trigger_source"`
}

// OnboardingStepResponse is one checklist item.
type OnboardingStepResponse struct {
	Phase       domain.OnboardingPhase `json:"phase"`
	Key         string                 `json:"key"`
	Label       string                 `json:"label"`
	Completed   bool                   `json:"completed"`
	CompletedAt *time.Time             `json:"completed_at"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

// OnboardingSessionResponse is the session cache.
type OnboardingSessionResponse struct {
	ID            string                   `json:"id"`
	TenantID      string                   `json:"tenant_id"`
	Phase         domain.OnboardingPhase   `json:"phase"`
	Status        domain.OnboardingStatus  `json:"status"`
	StatusReason  string                   `json:"status_reason,omitempty"`
	TriggerSource domain.OnboardingTrigger `json:"trigger_source"`
	Version       int64                    `json:"version"`
	StartedAt     time.Time                `json:"started_at"`
	CompletedAt   *time.Time               `json:"completed_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Steps         []OnboardingStepResponse `json:"steps"`
}

// EntitlementResponse is the tenant's current snapshot.
type EntitlementResponse struct {
	TenantID         string                   `json:"tenant_id"`
	Tier             domain.PlanTier          `json:"tier"`
	SLAPolicyID      string                   `json:"sla_policy_id"`
	PortalEnabled    bool                     `json:"portal_enabled"`
	FreescoutEnabled bool                     `json:"freescout_enabled"`
	AIFeatures       map[string]bool          `json:"ai_features"`
	OnboardingStatus *domain.OnboardingStatus `json:"onboarding_status"`
	EffectiveAt      time.Time                `json:"effective_at"`
}

// TenantResponse is the tenant cache.
type TenantResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	PrimaryDomain *string         `json:"primary_domain"`
	Tier          domain.PlanTier `json:"tier"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OnboardingMutationResponse wraps a session after a mutation.
type OnboardingMutationResponse struct {
	Session        OnboardingSessionResponse `json:"session"`
	Entitlement    *EntitlementResponse      `json:"entitlement,omitempty"`
	AlreadyApplied bool                      `json:"already_applied"`
	PhaseAdvanced  bool                      `json:"phase_advanced"`
	FromPhase      domain.OnboardingPhase    `json:"from_phase,omitempty"`
}

// OnboardingStatusResponse is the read view.
type OnboardingStatusResponse struct {
	Tenant      TenantResponse            `json:"tenant"`
	Session     OnboardingSessionResponse `json:"session"`
	Entitlement *EntitlementResponse      `json:"entitlement"`
}

// TierChangeResponse wraps a tenant after a tier change.
type TierChangeResponse struct {
	Tenant         TenantResponse       `json:"tenant"`
	Entitlement    *EntitlementResponse `json:"entitlement,omitempty"`
	AlreadyApplied bool                 `json:"already_applied"`
}

// NewOnboardingSessionResponse maps a session.
func NewOnboardingSessionResponse(s *domain.OnboardingSession) OnboardingSessionResponse {
	steps := make([]OnboardingStepResponse, 0, len(s.Steps))
	for _, step := range s.Steps {
		steps = append(steps, OnboardingStepResponse{
			Phase:       step.Phase,
			Key:         step.Key,
			Label:       step.Label,
			Completed:   step.Completed,
			CompletedAt: step.CompletedAt,
			Metadata:    step.Metadata,
		})
	}
	return OnboardingSessionResponse{
		ID:            s.ID,
		TenantID:      s.TenantID,
		Phase:         s.Phase,
		Status:        s.Status,
		StatusReason:  s.StatusReason,
		TriggerSource: s.TriggerSource,
		Version:       s.Version,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		UpdatedAt:     s.UpdatedAt,
		Steps:         steps,
	}
}

// NewEntitlementResponse maps an entitlement; nil stays nil.
func NewEntitlementResponse(e *domain.Entitlement) *EntitlementResponse {
	if e == nil {
		return nil
	}
	return &EntitlementResponse{
		TenantID:         e.TenantID,
		Tier:             e.Tier,
		SLAPolicyID:      e.SLAPolicyID,
		PortalEnabled:    e.PortalEnabled,
		FreescoutEnabled: e.FreescoutEnabled,
		AIFeatures:       e.AIFeatures,
		OnboardingStatus: e.OnboardingStatus,
		EffectiveAt:      e.EffectiveAt,
	}
}

// NewTenantResponse maps a tenant.
func NewTenantResponse(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:            t.ID,
		Name:          t.Name,
		PrimaryDomain: t.PrimaryDomain,
		Tier:          t.Tier,
		Version:       t.Version,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}
