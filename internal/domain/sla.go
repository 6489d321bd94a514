package domain

import "time"

// SLAPolicy is a per-tenant, per-tier pair of budgets. Policies are immutable; a case copies
// the budgets into its sla.started event.
type SLAPolicy struct {
	ID                   string
	TenantID             string
	Tier                 PlanTier
	FirstResponseMinutes int
	ResolutionMinutes    int
	CreatedAt            time.Time
}

// PauseInterval is one paused stretch of an SLA clock. End is nil while the pause is open.
type PauseInterval struct {
	Start time.Time
	End   *time.Time
}

// SLATimeline is the SLA view of a case log.
type SLATimeline struct {
	Started               bool
	StartedAt             time.Time
	PolicyID              string
	FirstResponseBudget   time.Duration
	ResolutionBudget      time.Duration
	FirstResponseAt       *time.Time
	ResolvedAt            *time.Time
	Pauses                []PauseInterval
	BreachedFirstResponse bool
	BreachedResolution    bool
}

// BuildTimeline folds a case log into its SLA timeline.
func BuildTimeline(events []Event) SLATimeline {
	var tl SLATimeline
	for _, ev := range events {
		at := ev.OccurredAt
		switch ev.Type {
		case EventSLAStarted:
			tl.Started = true
			tl.StartedAt = at
			tl.PolicyID = ev.PayloadString("policy_id")
			tl.FirstResponseBudget = time.Duration(ev.PayloadInt("first_response_minutes")) * time.Minute
			tl.ResolutionBudget = time.Duration(ev.PayloadInt("resolution_minutes")) * time.Minute
		case EventSLAPaused:
			if !tl.IsPaused() {
				tl.Pauses = append(tl.Pauses, PauseInterval{Start: at})
			}
		case EventSLAResumed:
			if tl.IsPaused() {
				tl.Pauses[len(tl.Pauses)-1].End = &at
			}
		case EventSLAFirstResponse:
			if tl.FirstResponseAt == nil {
				tl.FirstResponseAt = &at
			}
		case EventSLABreachedFirstResponse:
			tl.BreachedFirstResponse = true
		case EventSLABreachedResolution:
			tl.BreachedResolution = true
		case EventCaseStatusChanged:
			if CaseStatus(ev.PayloadString("to")) == CaseStatusResolved {
				tl.ResolvedAt = &at
			}
		case EventCaseReopened:
			tl.ResolvedAt = nil
		}
	}
	return tl
}

// IsPaused reports whether the last pause has not been resumed.
func (tl SLATimeline) IsPaused() bool {
	return len(tl.Pauses) > 0 && tl.Pauses[len(tl.Pauses)-1].End == nil
}

// PausedUntil sums paused time inside [StartedAt, end].
func (tl SLATimeline) PausedUntil(end time.Time) time.Duration {
	var total time.Duration
	for _, p := range tl.Pauses {
		start := p.Start
		if start.Before(tl.StartedAt) {
			start = tl.StartedAt
		}
		stop := end
		if p.End != nil && p.End.Before(end) {
			stop = *p.End
		}
		if stop.After(start) {
			total += stop.Sub(start)
		}
	}
	return total
}

// elapsedUntil is wall time since start minus paused time, both clipped to end.
func (tl SLATimeline) elapsedUntil(end time.Time) time.Duration {
	if !tl.Started || !end.After(tl.StartedAt) {
		return 0
	}
	return end.Sub(tl.StartedAt) - tl.PausedUntil(end)
}

// Elapsed is the resolution clock: it stops at the resolution stamp.
func (tl SLATimeline) Elapsed(now time.Time) time.Duration {
	return tl.elapsedUntil(tl.clockEnd(now, tl.ResolvedAt))
}

// FirstResponseElapsed stops at the first response (or resolution, whichever is earlier).
func (tl SLATimeline) FirstResponseElapsed(now time.Time) time.Duration {
	end := tl.clockEnd(now, tl.ResolvedAt)
	return tl.elapsedUntil(tl.clockEnd(end, tl.FirstResponseAt))
}

func (tl SLATimeline) clockEnd(now time.Time, stop *time.Time) time.Time {
	if stop != nil && stop.Before(now) {
		return *stop
	}
	return now
}

// DueBreaches lists breach events that should be appended at now. Each kind is returned only
// if it has not been recorded yet.
func (tl SLATimeline) DueBreaches(now time.Time) []EventType {
	if !tl.Started || tl.ResolvedAt != nil {
		return nil
	}
	var due []EventType
	elapsed := tl.Elapsed(now)
	if !tl.BreachedFirstResponse && tl.FirstResponseAt == nil &&
		tl.FirstResponseBudget > 0 && elapsed >= tl.FirstResponseBudget {
		due = append(due, EventSLABreachedFirstResponse)
	}
	if !tl.BreachedResolution && tl.ResolutionBudget > 0 && elapsed >= tl.ResolutionBudget {
		due = append(due, EventSLABreachedResolution)
	}
	return due
}

// Risk is the remaining share of a budget, clamped to [0,1]. Display only.
func Risk(elapsed, budget time.Duration) float64 {
	if budget <= 0 {
		return 0
	}
	r := 1 - float64(elapsed)/float64(budget)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// SLAClock describes one budget of a case.
type SLAClock struct {
	Budget    time.Duration
	Elapsed   time.Duration
	Remaining float64
	Breached  bool
	MetAt     *time.Time
}

// SLAStatus is the read model returned to dashboards.
type SLAStatus struct {
	CaseID           string
	Status           CaseStatus
	StartedAt        time.Time
	Paused           bool
	PausedTotal      time.Duration
	FirstResponse    SLAClock
	Resolution       SLAClock
	BreachSuppressed bool
	EvaluatedAt      time.Time
}

// Status renders the timeline at now.
func (tl SLATimeline) Status(now time.Time) SLAStatus {
	end := tl.clockEnd(now, tl.ResolvedAt)
	frElapsed := tl.FirstResponseElapsed(now)
	resElapsed := tl.Elapsed(now)
	return SLAStatus{
		StartedAt:   tl.StartedAt,
		Paused:      tl.IsPaused(),
		PausedTotal: tl.PausedUntil(end),
		FirstResponse: SLAClock{
			Budget:    tl.FirstResponseBudget,
			Elapsed:   frElapsed,
			Remaining: Risk(frElapsed, tl.FirstResponseBudget),
			Breached:  tl.BreachedFirstResponse,
			MetAt:     tl.FirstResponseAt,
		},
		Resolution: SLAClock{
			Budget:    tl.ResolutionBudget,
			Elapsed:   resElapsed,
			Remaining: Risk(resElapsed, tl.ResolutionBudget),
			Breached:  tl.BreachedResolution,
			MetAt:     tl.ResolvedAt,
		},
		EvaluatedAt: now,
	}
}
