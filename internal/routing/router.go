// Package routing maps a classified intake onto the action the engine takes for it.
package routing

import "github.com/sapphire/support-core/internal/domain"

// Default thresholds.
const (
	DefaultReviewConfidence      = 0.5
	DefaultSelfServiceConfidence = 0.8
)

// Input is everything the decision depends on.
type Input struct {
	Intent         domain.Intent
	Urgency        domain.Urgency
	Tier           domain.PlanTier
	Confidence     float64
	ComplianceFlag bool
}

// Router holds the confidence thresholds. Decide has no other state, so the same input
// always yields the same action.
type Router struct {
	reviewConfidence      float64
	selfServiceConfidence float64
}

// NewRouter builds a Router; non-positive thresholds fall back to the defaults.
func NewRouter(reviewConfidence, selfServiceConfidence float64) Router {
	if reviewConfidence <= 0 {
		reviewConfidence = DefaultReviewConfidence
	}
	if selfServiceConfidence <= 0 {
		selfServiceConfidence = DefaultSelfServiceConfidence
	}
	return Router{reviewConfidence: reviewConfidence, selfServiceConfidence: selfServiceConfidence}
}

// Decide applies the routing table in order; the first matching row wins.
func (r Router) Decide(in Input) domain.RoutingAction {
	switch {
	case in.ComplianceFlag && in.Intent == domain.IntentUnknown:
		return domain.ActionNeedsReview
	case in.ComplianceFlag:
		return domain.ActionEscalateOps
	case in.Intent == domain.IntentUnknown, in.Confidence < r.reviewConfidence:
		return domain.ActionNeedsReview
	case in.Intent == domain.IntentSales:
		return domain.ActionRouteSales
	case in.Intent == domain.IntentSupport && in.Tier == domain.TierZero && in.Confidence >= r.selfServiceConfidence:
		return domain.ActionSelfService
	default:
		return domain.ActionCreateCase
	}
}
