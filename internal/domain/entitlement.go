package domain

import "time"

// AI feature flag names.
const (
	FeatureIntentClassification = "intent_classification"
	FeatureKBRag                = "kb_rag"
	FeatureDraftReplies         = "draft_replies"
)

// Entitlement is the tenant's current feature and SLA snapshot. It is overwritten, never
// appended.
type Entitlement struct {
	TenantID         string
	Tier             PlanTier
	SLAPolicyID      string
	PortalEnabled    bool
	FreescoutEnabled bool
	AIFeatures       map[string]bool
	OnboardingStatus *OnboardingStatus
	EffectiveAt      time.Time
	UpdatedAt        time.Time
}
