package domain

import (
	"strings"
	"time"
)

// CaseStatus enumerates lifecycle states for cases.
type CaseStatus string

const (
	CaseStatusNew             CaseStatus = "new"
	CaseStatusOpen            CaseStatus = "open"
	CaseStatusPendingCustomer CaseStatus = "pending_customer"
	CaseStatusPendingInternal CaseStatus = "pending_internal"
	CaseStatusEscalated       CaseStatus = "escalated"
	CaseStatusResolved        CaseStatus = "resolved"
	CaseStatusClosed          CaseStatus = "closed"
)

// CasePriority enumerates case urgency.
type CasePriority string

const (
	CasePriorityLow      CasePriority = "low"
	CasePriorityNormal   CasePriority = "normal"
	CasePriorityHigh     CasePriority = "high"
	CasePriorityCritical CasePriority = "critical"
)

// CaseCategory groups cases by subject.
type CaseCategory string

const (
	CaseCategorySupport    CaseCategory = "support"
	CaseCategoryOnboarding CaseCategory = "onboarding"
	CaseCategoryBilling    CaseCategory = "billing"
	CaseCategoryCompliance CaseCategory = "compliance"
	CaseCategoryOutage     CaseCategory = "outage"
)

// ParseCasePriority validates a priority name.
func ParseCasePriority(raw string) (CasePriority, bool) {
	switch p := CasePriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case CasePriorityLow, CasePriorityNormal, CasePriorityHigh, CasePriorityCritical:
		return p, true
	}
	return "", false
}

// ParseCaseCategory validates a category name.
func ParseCaseCategory(raw string) (CaseCategory, bool) {
	switch c := CaseCategory(strings.ToLower(strings.TrimSpace(raw))); c {
	case CaseCategorySupport, CaseCategoryOnboarding, CaseCategoryBilling, CaseCategoryCompliance, CaseCategoryOutage:
		return c, true
	}
	return "", false
}

// ParseCaseStatus validates a status name.
func ParseCaseStatus(raw string) (CaseStatus, bool) {
	status := CaseStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allowedTransitions[status]
	return status, ok
}

// Case is the unit of work. Status, FirstResponseAt and ResolvedAt are caches of the case
// event log; Version equals the sequence of the last applied event.
type Case struct {
	ID              string
	TenantID        string
	Title           string
	Status          CaseStatus
	Priority        CasePriority
	Category        CaseCategory
	CreatedBy       string
	OwnerID         *string
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var allowedTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusNew:             {CaseStatusOpen, CaseStatusEscalated},
	CaseStatusOpen:            {CaseStatusPendingCustomer, CaseStatusPendingInternal, CaseStatusEscalated, CaseStatusResolved},
	CaseStatusPendingCustomer: {CaseStatusOpen, CaseStatusPendingInternal, CaseStatusEscalated, CaseStatusResolved},
	CaseStatusPendingInternal: {CaseStatusOpen, CaseStatusPendingCustomer, CaseStatusEscalated, CaseStatusResolved},
	CaseStatusEscalated:       {CaseStatusOpen, CaseStatusResolved},
	CaseStatusResolved:        {CaseStatusClosed},
	CaseStatusClosed:          {},
}

// IsValidTransition reports whether next is an edge out of current.
func IsValidTransition(current, next CaseStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsPending reports whether the SLA clock is paused in this status.
func (s CaseStatus) IsPending() bool {
	return s == CaseStatusPendingCustomer || s == CaseStatusPendingInternal
}

// IsTerminal reports statuses that no longer accrue SLA time.
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusResolved || s == CaseStatusClosed
}

// CaseProjection is the state obtained by folding a case log.
type CaseProjection struct {
	Status          CaseStatus
	Priority        CasePriority
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	Version         int64
}

// ReplayCase folds a case log, in sequence order, into its current state.
func ReplayCase(events []Event) CaseProjection {
	var p CaseProjection
	for _, ev := range events {
		switch ev.Type {
		case EventCaseCreated:
			p.Status = CaseStatus(ev.PayloadString("status"))
			p.Priority = CasePriority(ev.PayloadString("priority"))
		case EventCaseStatusChanged:
			p.Status = CaseStatus(ev.PayloadString("to"))
			if p.Status == CaseStatusResolved {
				at := ev.OccurredAt
				p.ResolvedAt = &at
			}
		case EventCaseReopened:
			p.Status = CaseStatusOpen
			p.ResolvedAt = nil
		case EventSLAFirstResponse:
			if p.FirstResponseAt == nil {
				at := ev.OccurredAt
				p.FirstResponseAt = &at
			}
		}
		p.Version = ev.Sequence
	}
	return p
}
