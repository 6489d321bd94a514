package domain

import (
	"strings"
	"time"
)

// PlanTier is a tenant's subscription level.
type PlanTier string

const (
	TierZero PlanTier = "tier0"
	TierOne  PlanTier = "tier1"
	TierTwo  PlanTier = "tier2"
)

// ParsePlanTier normalizes a tier name. The second value is false for unknown tiers.
func ParsePlanTier(raw string) (PlanTier, bool) {
	switch tier := PlanTier(strings.ToLower(strings.TrimSpace(raw))); tier {
	case TierZero, TierOne, TierTwo:
		return tier, true
	}
	return "", false
}

// ProspectTenantName is the shared tenant used for intakes from unknown domains.
const ProspectTenantName = "Prospect"

// Tenant owns cases and at most one onboarding session.
type Tenant struct {
	ID            string
	Name          string
	PrimaryDomain *string
	Tier          PlanTier
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmailDomain extracts the lower-cased domain of an address, or "" when there is none.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
