// Package entitlement maps a plan tier to SLA budgets and feature flags.
package entitlement

import (
	"time"

	"github.com/sapphire/support-core/internal/domain"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// Budget is a pair of SLA budgets in minutes.
type Budget struct {
	FirstResponseMinutes int
	ResolutionMinutes    int
}

// DefaultBudgets are used for any tier the configuration does not override.
func DefaultBudgets() map[domain.PlanTier]Budget {
	return map[domain.PlanTier]Budget{
		domain.TierZero: {FirstResponseMinutes: 1440, ResolutionMinutes: 4320},
		domain.TierOne:  {FirstResponseMinutes: 240, ResolutionMinutes: 1440},
		domain.TierTwo:  {FirstResponseMinutes: 60, ResolutionMinutes: 480},
	}
}

// Resolver is stateless apart from its budget table.
type Resolver struct {
	budgets map[domain.PlanTier]Budget
}

// NewResolver layers overrides on top of the defaults. A budget with a non-positive value
// removes the tier, which then resolves to POLICY_MISSING.
func NewResolver(overrides map[domain.PlanTier]Budget) *Resolver {
	budgets := DefaultBudgets()
	for tier, b := range overrides {
		if b.FirstResponseMinutes <= 0 || b.ResolutionMinutes <= 0 {
			delete(budgets, tier)
			continue
		}
		budgets[tier] = b
	}
	return &Resolver{budgets: budgets}
}

// Budget returns the SLA budgets for tier.
func (r *Resolver) Budget(tier domain.PlanTier) (Budget, error) {
	b, ok := r.budgets[tier]
	if !ok {
		return Budget{}, apperrors.NewPolicyMissing(string(tier))
	}
	return b, nil
}

// Features returns the flags enabled for tier.
func (r *Resolver) Features(tier domain.PlanTier) (portal, freescout bool, ai map[string]bool) {
	paid := tier == domain.TierOne || tier == domain.TierTwo
	ai = map[string]bool{
		domain.FeatureIntentClassification: true,
		domain.FeatureKBRag:                paid,
		domain.FeatureDraftReplies:         paid,
	}
	return true, paid, ai
}

// Resolve builds the tenant's snapshot from its tier, the SLA policy already persisted for
// that tier and the onboarding status, if a session exists.
func (r *Resolver) Resolve(tenantID string, tier domain.PlanTier, policy *domain.SLAPolicy, onboarding *domain.OnboardingStatus, now time.Time) (*domain.Entitlement, error) {
	if policy == nil {
		return nil, apperrors.NewPolicyMissing(string(tier))
	}
	portal, freescout, ai := r.Features(tier)
	var status *domain.OnboardingStatus
	if onboarding != nil {
		s := *onboarding
		status = &s
	}
	return &domain.Entitlement{
		TenantID:         tenantID,
		Tier:             tier,
		SLAPolicyID:      policy.ID,
		PortalEnabled:    portal,
		FreescoutEnabled: freescout,
		AIFeatures:       ai,
		OnboardingStatus: status,
		EffectiveAt:      now,
		UpdatedAt:        now,
	}, nil
}
