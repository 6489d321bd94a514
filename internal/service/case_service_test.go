package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/repository"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

func TestCreateCaseStartsSLAWithTierBudgets(t *testing.T) {
	h := newHarness(t)
	tenant := h.seedTenant(t, "Acme", domain.TierZero, "")

	c := h.createCase(t, tenant.ID)

	assert.Equal(t, domain.CaseStatusNew, c.Status)
	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, domain.CasePriorityNormal, c.Priority)

	log := h.caseLog(t, c.ID)
	require.Len(t, log, 2)
	assert.Equal(t, domain.EventCaseCreated, log[0].Type)
	assert.Equal(t, domain.EventSLAStarted, log[1].Type)
	assert.Equal(t, 60, log[1].PayloadInt("first_response_minutes"))
	assert.Equal(t, 1440, log[1].PayloadInt("resolution_minutes"))
}

func TestCreateCaseValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cases.Create(ctx, CaseCreateInput{TenantID: "x", Title: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.cases.Create(ctx, CaseCreateInput{TenantID: "00000000-0000-0000-0000-000000000001", Title: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	_, err = h.cases.Create(ctx, CaseCreateInput{TenantID: tenant.ID, Title: "hi", Priority: "URGENT!!"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.cases.Create(ctx, CaseCreateInput{TenantID: tenant.ID, Title: "hi", Category: "nonsense"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	cases, err := h.cases.ListByTenant(ctx, tenant.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, cases)

	created, err := h.cases.Create(ctx, CaseCreateInput{TenantID: tenant.ID, Title: "hi", Priority: "High", Category: " Billing "})
	require.NoError(t, err)
	assert.Equal(t, domain.CasePriorityHigh, created.Case.Priority)
	assert.Equal(t, domain.CaseCategoryBilling, created.Case.Category)
}

func TestTransitionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	first, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	assert.False(t, first.AlreadyApplied)

	second, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Case.Version, second.Case.Version)
	assert.Equal(t, 1, countEvents(h.caseLog(t, c.ID), domain.EventCaseStatusChanged))
}

func TestSimultaneousIdenticalTransitionsApplyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	const callers = 16
	results := make([]*CaseResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
		}(i)
	}
	wg.Wait()

	applied, noop := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.CaseStatusOpen, results[i].Case.Status)
		if results[i].AlreadyApplied {
			noop++
		} else {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, callers-1, noop)
	assert.Equal(t, 1, countEvents(h.caseLog(t, c.ID), domain.EventCaseStatusChanged))
}

func TestTransitionRejectsEdgeOutsideGraph(t *testing.T) {
	h := newHarness(t)
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	_, err := h.cases.Transition(context.Background(), c.ID, domain.CaseStatusResolved, agent, "")
	require.Error(t, err)

	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeInvalidTransition, domainErr.Code)
	assert.Equal(t, "new", domainErr.Details["current_status"])

	_, err = h.cases.Transition(context.Background(), c.ID, domain.CaseStatus("archived"), agent, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestCaseLogFoldMatchesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	steps := []domain.CaseStatus{
		domain.CaseStatusOpen,
		domain.CaseStatusPendingCustomer,
		domain.CaseStatusPendingInternal,
		domain.CaseStatusOpen,
		domain.CaseStatusResolved,
		domain.CaseStatusClosed,
	}
	for _, target := range steps {
		h.clock.Advance(5 * time.Minute)
		_, err := h.cases.Transition(ctx, c.ID, target, agent, "")
		require.NoError(t, err)
	}
	h.clock.Advance(time.Minute)
	_, err := h.cases.Reopen(ctx, c.ID, agent, "customer replied")
	require.NoError(t, err)

	cached, err := h.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	folded := domain.ReplayCase(h.caseLog(t, c.ID))

	assert.Equal(t, cached.Status, folded.Status)
	assert.Equal(t, cached.Version, folded.Version)
	assert.Equal(t, cached.ResolvedAt, folded.ResolvedAt)
	assert.Equal(t, domain.CaseStatusOpen, cached.Status)

	log := h.caseLog(t, c.ID)
	for i, ev := range log {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
	// pending_customer -> pending_internal keeps the one open pause
	assert.Equal(t, 1, countEvents(log, domain.EventSLAPaused))
	assert.Equal(t, 1, countEvents(log, domain.EventSLAResumed))
}

func TestFirstResponseIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	h.clock.Advance(10 * time.Minute)
	first, err := h.cases.RecordFirstResponse(ctx, c.ID, agent)
	require.NoError(t, err)
	require.NotNil(t, first.Case.FirstResponseAt)
	assert.Equal(t, t0.Add(10*time.Minute), *first.Case.FirstResponseAt)
	require.NotNil(t, first.Case.OwnerID)
	assert.Equal(t, "agent-1", *first.Case.OwnerID)

	h.clock.Advance(10 * time.Minute)
	second, err := h.cases.RecordFirstResponse(ctx, c.ID, agent)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Case.FirstResponseAt, second.Case.FirstResponseAt)
	assert.Equal(t, 1, countEvents(h.caseLog(t, c.ID), domain.EventSLAFirstResponse))
}

func TestReopenOnlyFromClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	_, err := h.cases.Reopen(ctx, c.ID, agent, "again")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	_, err = h.cases.Reopen(ctx, c.ID, agent, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestTransitionReportsConcurrentWrite(t *testing.T) {
	h := newHarness(t)
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	h.store.FailNextAppend(repository.ErrVersionConflict)
	_, err := h.cases.Transition(context.Background(), c.ID, domain.CaseStatusOpen, agent, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	cached, err := h.cases.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusNew, cached.Status)
	assert.Len(t, h.caseLog(t, c.ID), 2)
}

// busyLocker never grants a lock, like a Redis key held past the wait budget.
type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) { return nil, lock.ErrNotAcquired }

func TestBusyCaseLockIsConflict(t *testing.T) {
	h := newHarness(t)
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	h.cases.locker = busyLocker{}
	_, err := h.cases.Transition(context.Background(), c.ID, domain.CaseStatusOpen, agent, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Len(t, h.caseLog(t, c.ID), 2)
}

func TestTenantHistoryIsNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	other := h.seedTenant(t, "Globex", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)
	h.createCase(t, other.ID)
	_, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)

	history, err := h.cases.TenantHistory(ctx, tenant.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.EventCaseStatusChanged, history[0].Type)
	assert.Equal(t, domain.EventTenantCreated, history[3].Type)
	for _, ev := range history {
		assert.Equal(t, tenant.ID, ev.TenantID)
	}

	limited, err := h.cases.TenantHistory(ctx, tenant.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = h.cases.TenantHistory(ctx, "00000000-0000-0000-0000-000000000001", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
