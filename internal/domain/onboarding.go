package domain

import (
	"strings"
	"time"
)

// OnboardingPhase is an ordered stage of tenant ramp-up.
type OnboardingPhase string

const (
	PhaseNotStarted    OnboardingPhase = "not_started"
	PhaseProvisioned   OnboardingPhase = "phase_0_provisioned"
	PhaseFirstValue    OnboardingPhase = "phase_1_first_value"
	PhaseCoreWorkflows OnboardingPhase = "phase_2_core_workflows"
	PhaseIndependent   OnboardingPhase = "phase_3_independent"
	PhaseCompleted     OnboardingPhase = "completed"
)

var phaseOrder = []OnboardingPhase{
	PhaseNotStarted,
	PhaseProvisioned,
	PhaseFirstValue,
	PhaseCoreWorkflows,
	PhaseIndependent,
	PhaseCompleted,
}

// Rank is the phase position; unknown phases rank -1.
func (p OnboardingPhase) Rank() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Before reports whether p comes strictly before other.
func (p OnboardingPhase) Before(other OnboardingPhase) bool {
	return p.Rank() >= 0 && p.Rank() < other.Rank()
}

// Next returns the following phase; completed has no successor.
func (p OnboardingPhase) Next() (OnboardingPhase, bool) {
	rank := p.Rank()
	if rank < 0 || rank >= len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[rank+1], true
}

// OnboardingStatus is the session status, orthogonal to the phase.
type OnboardingStatus string

const (
	OnboardingActive    OnboardingStatus = "active"
	OnboardingPaused    OnboardingStatus = "paused"
	OnboardingCompleted OnboardingStatus = "completed"
	OnboardingFailed    OnboardingStatus = "failed"
)

// OnboardingTrigger records what started a session or tier change.
type OnboardingTrigger string

const (
	TriggerRegistration  OnboardingTrigger = "supabase_registration"
	TriggerTierUpgrade   OnboardingTrigger = "tier_upgrade"
	TriggerManualRestart OnboardingTrigger = "manual_restart"
)

// ParseOnboardingTrigger validates a trigger name.
func ParseOnboardingTrigger(raw string) (OnboardingTrigger, bool) {
	switch t := OnboardingTrigger(strings.ToLower(strings.TrimSpace(raw))); t {
	case TriggerRegistration, TriggerTierUpgrade, TriggerManualRestart:
		return t, true
	}
	return "", false
}

// OnboardingSession is unique per tenant. Phase and Status are caches of the onboarding log.
type OnboardingSession struct {
	ID            string
	TenantID      string
	Phase         OnboardingPhase
	Status        OnboardingStatus
	StatusReason  string
	TriggerSource OnboardingTrigger
	Version       int64
	StartedAt     time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
	Steps         []OnboardingStep
}

// OnboardingStep belongs to one session and phase; Key is unique within both.
type OnboardingStep struct {
	ID          string
	SessionID   string
	Phase       OnboardingPhase
	Key         string
	Label       string
	Completed   bool
	CompletedAt *time.Time
	Metadata    map[string]any
}

// StepDefinition is a catalogue entry.
type StepDefinition struct {
	Key   string
	Label string
}

var onboardingSteps = map[OnboardingPhase][]StepDefinition{
	PhaseProvisioned: {
		{Key: "aws_provisioned", Label: "AWS Environment Provisioned"},
		{Key: "supabase_ready", Label: "Supabase Database Ready"},
	},
	PhaseFirstValue: {
		{Key: "portal_login", Label: "Portal Login"},
		{Key: "first_ai_question", Label: "First AI Question Asked"},
		{Key: "kb_search", Label: "Knowledge Base Search"},
	},
	PhaseCoreWorkflows: {
		{Key: "first_case_created", Label: "First Support Case Created"},
		{Key: "case_resolved", Label: "First Case Resolved"},
		{Key: "email_intake", Label: "Email Intake Received"},
	},
	PhaseIndependent: {
		{Key: "multiple_cases", Label: "Multiple Cases Handled"},
		{Key: "self_service_success", Label: "Self-Service Success"},
		{Key: "team_adoption", Label: "Team Adoption"},
	},
}

// StepsForPhase returns the catalogue for a phase.
func StepsForPhase(phase OnboardingPhase) []StepDefinition {
	return onboardingSteps[phase]
}

// PhaseSteps returns the session steps that belong to phase.
func (s *OnboardingSession) PhaseSteps(phase OnboardingPhase) []*OnboardingStep {
	var result []*OnboardingStep
	for i := range s.Steps {
		if s.Steps[i].Phase == phase {
			result = append(result, &s.Steps[i])
		}
	}
	return result
}

// FindStep looks up a step of the current phase.
func (s *OnboardingSession) FindStep(key string) *OnboardingStep {
	for _, step := range s.PhaseSteps(s.Phase) {
		if step.Key == key {
			return step
		}
	}
	return nil
}

// PhaseComplete reports whether every step of the current phase is done. A phase with no
// steps is never complete by step completion.
func (s *OnboardingSession) PhaseComplete() bool {
	steps := s.PhaseSteps(s.Phase)
	if len(steps) == 0 {
		return false
	}
	for _, step := range steps {
		if !step.Completed {
			return false
		}
	}
	return true
}

// SuppressesBreaches reports whether SLA breach emission is held back for the tenant.
func (s *OnboardingSession) SuppressesBreaches() bool {
	return s != nil && s.Status == OnboardingActive && s.Phase.Before(PhaseIndependent)
}

// OnboardingProjection is the state obtained by folding an onboarding log.
type OnboardingProjection struct {
	Phase   OnboardingPhase
	Status  OnboardingStatus
	Version int64
}

// ReplayOnboarding folds an onboarding log in sequence order.
func ReplayOnboarding(events []Event) OnboardingProjection {
	var p OnboardingProjection
	for _, ev := range events {
		switch ev.Type {
		case EventOnboardingStarted:
			p.Phase = OnboardingPhase(ev.PayloadString("phase"))
			p.Status = OnboardingActive
		case EventOnboardingPhaseAdvanced:
			p.Phase = OnboardingPhase(ev.PayloadString("to_phase"))
		case EventOnboardingPaused:
			p.Status = OnboardingPaused
		case EventOnboardingResumed:
			p.Status = OnboardingActive
		case EventOnboardingFailed:
			p.Status = OnboardingFailed
		case EventOnboardingCompleted:
			p.Phase = PhaseCompleted
			p.Status = OnboardingCompleted
		}
		p.Version = ev.Sequence
	}
	return p
}
