package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire/support-core/internal/domain"
)

func TestFirstResponseBreachAfterSixtyOneMinutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierZero, "")
	c := h.createCase(t, tenant.ID)

	h.clock.Advance(59 * time.Minute)
	appended, err := h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
	require.NoError(t, err)
	assert.Empty(t, appended)

	h.clock.Advance(2 * time.Minute)
	appended, err = h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventSLABreachedFirstResponse}, appended)

	h.clock.Advance(time.Minute)
	appended, err = h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
	require.NoError(t, err)
	assert.Empty(t, appended)

	log := h.caseLog(t, c.ID)
	require.Equal(t, 1, countEvents(log, domain.EventSLABreachedFirstResponse))
	breach := log[len(log)-1]
	assert.Equal(t, domain.EventSLABreachedFirstResponse, breach.Type)
	assert.Equal(t, t0.Add(61*time.Minute), breach.OccurredAt)
	assert.Equal(t, BreachSourceSweep, breach.PayloadString("source"))

	status, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, status.FirstResponse.Breached)
	assert.False(t, status.Resolution.Breached)
	assert.Zero(t, status.FirstResponse.Remaining)
}

func TestPendingTimeIsExcludedFromElapsed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierZero, "")
	c := h.createCase(t, tenant.ID)

	_, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)

	h.clock.Set(t0.Add(10 * time.Minute))
	_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusPendingCustomer, agent, "waiting on logs")
	require.NoError(t, err)

	h.clock.Set(t0.Add(70 * time.Minute))
	_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	// 10 minutes of running time so far
	assert.Equal(t, 0, countEvents(h.caseLog(t, c.ID), domain.EventSLABreachedFirstResponse))

	h.clock.Set(t0.Add(130 * time.Minute))
	status, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, 70*time.Minute, status.FirstResponse.Elapsed)
	assert.Equal(t, 60*time.Minute, status.PausedTotal)
	assert.True(t, status.FirstResponse.Breached)
	assert.False(t, status.Paused)
	assert.Equal(t, 1, countEvents(h.caseLog(t, c.ID), domain.EventSLABreachedFirstResponse))
}

func TestPausedTimeNeverExceedsCaseLifetime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	c := h.createCase(t, tenant.ID)

	_, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		h.clock.Advance(7 * time.Minute)
		_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusPendingInternal, agent, "")
		require.NoError(t, err)
		h.clock.Advance(13 * time.Minute)
		_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
		require.NoError(t, err)
	}
	h.clock.Advance(time.Minute)
	_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusPendingCustomer, agent, "")
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)

	status, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
	require.NoError(t, err)

	lifetime := h.clock.Now().Sub(status.StartedAt)
	assert.True(t, status.Paused)
	assert.Equal(t, 3*13*time.Minute+30*time.Minute, status.PausedTotal)
	assert.LessOrEqual(t, status.PausedTotal, lifetime)
	assert.Equal(t, lifetime-status.PausedTotal, status.Resolution.Elapsed)
}

func TestResolvedCaseStopsTheClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierZero, "")
	c := h.createCase(t, tenant.ID)

	_, err := h.cases.Transition(ctx, c.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	_, err = h.cases.RecordFirstResponse(ctx, c.ID, agent)
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	_, err = h.cases.Transition(ctx, c.ID, domain.CaseStatusResolved, agent, "")
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	appended, err := h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
	require.NoError(t, err)
	assert.Empty(t, appended)

	status, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, status.Resolution.Elapsed)
	assert.False(t, status.Resolution.Breached)
}

func TestConcurrentSweepAndReadAppendOneBreach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierZero, "")
	c := h.createCase(t, tenant.ID)
	h.clock.Advance(61 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	log := h.caseLog(t, c.ID)
	assert.Equal(t, 1, countEvents(log, domain.EventSLABreachedFirstResponse))
	cached, err := h.cases.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(log)), cached.Version)
}

func TestBreachesAreHeldBackDuringEarlyOnboarding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start, err := h.onboarding.Start(ctx, StartOnboardingInput{
		TenantID:   "7d0c2b1e-2f55-4a7e-9a53-0f4f3d9d8c11",
		TenantName: "Newco",
		Tier:       domain.TierZero,
	})
	require.NoError(t, err)
	c := h.createCase(t, start.Session.TenantID)

	h.clock.Advance(2 * time.Hour)
	status, err := h.sla.GetCaseSLAStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, status.BreachSuppressed)
	assert.False(t, status.FirstResponse.Breached)
	assert.Equal(t, 0, countEvents(h.caseLog(t, c.ID), domain.EventSLABreachedFirstResponse))

	// A paused session no longer holds breaches back.
	_, err = h.onboarding.Pause(ctx, start.Session.TenantID, "customer on holiday", ops)
	require.NoError(t, err)
	appended, err := h.sla.CheckBreaches(ctx, c.ID, BreachSourceSweep)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventSLABreachedFirstResponse}, appended)
}

func TestListOpenCasesSkipsResolved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.seedTenant(t, "Acme", domain.TierOne, "")
	open := h.createCase(t, tenant.ID)
	done := h.createCase(t, tenant.ID)

	_, err := h.cases.Transition(ctx, done.ID, domain.CaseStatusOpen, agent, "")
	require.NoError(t, err)
	_, err = h.cases.Transition(ctx, done.ID, domain.CaseStatusResolved, agent, "")
	require.NoError(t, err)

	page, err := h.sla.ListOpenCases(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, open.ID, page[0].ID)
}
