package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/repository"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

const tenantA = "5b7f1c3a-8e1d-4c2b-9f6a-1d2e3f4a5b6c"

func startOnboarding(t *testing.T, h *harness, tier domain.PlanTier) *OnboardingResult {
	t.Helper()
	result, err := h.onboarding.Start(context.Background(), StartOnboardingInput{
		TenantID:      tenantA,
		TenantName:    "Acme Labs",
		PrimaryDomain: "acme.io",
		Tier:          tier,
		Trigger:       domain.TriggerRegistration,
		Actor:         domain.SystemActor,
	})
	require.NoError(t, err)
	return result
}

func onboardingLog(t *testing.T, h *harness, sessionID string) []domain.Event {
	t.Helper()
	log, err := h.repos.Events.ListByEntity(context.Background(), domain.EntityOnboarding, sessionID)
	require.NoError(t, err)
	return log
}

func completePhase(t *testing.T, h *harness, phase domain.OnboardingPhase) *OnboardingResult {
	t.Helper()
	var last *OnboardingResult
	for _, def := range domain.StepsForPhase(phase) {
		result, err := h.onboarding.AdvanceStep(context.Background(), tenantA, def.Key, nil, agent)
		require.NoError(t, err)
		last = result
	}
	return last
}

func TestStartOnboardingTwiceKeepsOneSession(t *testing.T) {
	h := newHarness(t)

	first := startOnboarding(t, h, domain.TierOne)
	assert.False(t, first.AlreadyApplied)
	assert.Equal(t, domain.PhaseProvisioned, first.Session.Phase)
	assert.Equal(t, domain.OnboardingActive, first.Session.Status)
	assert.Len(t, first.Session.Steps, len(domain.StepsForPhase(domain.PhaseProvisioned)))
	require.NotNil(t, first.Entitlement)
	assert.Equal(t, domain.TierOne, first.Entitlement.Tier)

	second := startOnboarding(t, h, domain.TierTwo)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Session.ID, second.Session.ID)

	log := onboardingLog(t, h, first.Session.ID)
	assert.Equal(t, 1, countEvents(log, domain.EventOnboardingStarted))

	tenant, err := h.repos.Tenants.GetByID(context.Background(), tenantA)
	require.NoError(t, err)
	assert.Equal(t, domain.TierOne, tenant.Tier)
}

func TestStartOnboardingRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.onboarding.Start(ctx, StartOnboardingInput{TenantID: "acme"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = h.onboarding.Start(ctx, StartOnboardingInput{TenantID: tenantA, Tier: domain.PlanTier("tier9")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePolicyMissing))
}

func TestAdvanceUnknownStep(t *testing.T) {
	h := newHarness(t)
	startOnboarding(t, h, domain.TierOne)

	_, err := h.onboarding.AdvanceStep(context.Background(), tenantA, "portal_login", nil, agent)
	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeUnknownStep, domainErr.Code)
	assert.Equal(t, string(domain.PhaseProvisioned), domainErr.Details["current_phase"])
}

func TestAdvanceMovesOnePhaseAndSeedsNext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOnboarding(t, h, domain.TierOne)

	partial, err := h.onboarding.AdvanceStep(ctx, tenantA, "aws_provisioned", map[string]any{"region": "eu-west-1"}, agent)
	require.NoError(t, err)
	assert.False(t, partial.PhaseAdvanced)
	assert.Equal(t, domain.PhaseProvisioned, partial.Session.Phase)

	done, err := h.onboarding.AdvanceStep(ctx, tenantA, "supabase_ready", nil, agent)
	require.NoError(t, err)
	assert.True(t, done.PhaseAdvanced)
	assert.Equal(t, domain.PhaseProvisioned, done.FromPhase)
	assert.Equal(t, domain.PhaseFirstValue, done.Session.Phase)
	assert.Len(t, done.Session.PhaseSteps(domain.PhaseFirstValue), len(domain.StepsForPhase(domain.PhaseFirstValue)))

	retry, err := h.onboarding.AdvanceStep(ctx, tenantA, "supabase_ready", nil, agent)
	require.NoError(t, err)
	assert.True(t, retry.AlreadyApplied)
	assert.Equal(t, domain.PhaseFirstValue, retry.Session.Phase)
	assert.Equal(t, done.Session.Version, retry.Session.Version)

	stored, err := h.repos.Onboarding.GetByTenant(ctx, tenantA)
	require.NoError(t, err)
	step := stored.PhaseSteps(domain.PhaseProvisioned)[0]
	assert.Equal(t, "aws_provisioned", step.Key)
	assert.Equal(t, "eu-west-1", step.Metadata["region"])
}

func TestConcurrentAdvanceMovesExactlyOnePhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := startOnboarding(t, h, domain.TierOne).Session

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, def := range domain.StepsForPhase(domain.PhaseProvisioned) {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				_, err := h.onboarding.AdvanceStep(ctx, tenantA, key, nil, agent)
				assert.NoError(t, err)
			}(def.Key)
		}
	}
	wg.Wait()

	stored, err := h.repos.Onboarding.GetByTenant(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFirstValue, stored.Phase)

	log := onboardingLog(t, h, session.ID)
	assert.Equal(t, 1, countEvents(log, domain.EventOnboardingPhaseAdvanced))
	assert.Equal(t, 2, countEvents(log, domain.EventOnboardingStepCompleted))
}

func TestOnboardingRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := startOnboarding(t, h, domain.TierOne).Session

	completePhase(t, h, domain.PhaseProvisioned)
	completePhase(t, h, domain.PhaseFirstValue)
	completePhase(t, h, domain.PhaseCoreWorkflows)
	last := completePhase(t, h, domain.PhaseIndependent)

	assert.Equal(t, domain.PhaseCompleted, last.Session.Phase)
	assert.Equal(t, domain.OnboardingCompleted, last.Session.Status)
	require.NotNil(t, last.Session.CompletedAt)
	require.NotNil(t, last.Entitlement)
	require.NotNil(t, last.Entitlement.OnboardingStatus)
	assert.Equal(t, domain.OnboardingCompleted, *last.Entitlement.OnboardingStatus)

	again, err := h.onboarding.Complete(ctx, tenantA, ops)
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)

	folded := domain.ReplayOnboarding(onboardingLog(t, h, session.ID))
	assert.Equal(t, last.Session.Phase, folded.Phase)
	assert.Equal(t, last.Session.Status, folded.Status)
	assert.Equal(t, last.Session.Version, folded.Version)
}

func TestCompleteRequiresPhaseThree(t *testing.T) {
	h := newHarness(t)
	startOnboarding(t, h, domain.TierOne)

	_, err := h.onboarding.Complete(context.Background(), tenantA, ops)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestPauseResumeAndFail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOnboarding(t, h, domain.TierOne)

	_, err := h.onboarding.Resume(ctx, tenantA, ops)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	paused, err := h.onboarding.Pause(ctx, tenantA, "waiting for DNS", ops)
	require.NoError(t, err)
	assert.Equal(t, domain.OnboardingPaused, paused.Session.Status)
	assert.Equal(t, domain.PhaseProvisioned, paused.Session.Phase)
	require.NotNil(t, paused.Entitlement.OnboardingStatus)
	assert.Equal(t, domain.OnboardingPaused, *paused.Entitlement.OnboardingStatus)

	_, err = h.onboarding.Pause(ctx, tenantA, "again", ops)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	_, err = h.onboarding.AdvanceStep(ctx, tenantA, "aws_provisioned", nil, agent)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	resumed, err := h.onboarding.Resume(ctx, tenantA, ops)
	require.NoError(t, err)
	assert.Equal(t, domain.OnboardingActive, resumed.Session.Status)
	assert.Equal(t, domain.PhaseProvisioned, resumed.Session.Phase)

	_, err = h.onboarding.Fail(ctx, tenantA, "", ops)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	failed, err := h.onboarding.Fail(ctx, tenantA, "customer churned", ops)
	require.NoError(t, err)
	assert.Equal(t, domain.OnboardingFailed, failed.Session.Status)
	assert.Equal(t, "customer churned", failed.Session.StatusReason)

	_, err = h.onboarding.Resume(ctx, tenantA, ops)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestChangeTier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := startOnboarding(t, h, domain.TierOne)
	oldPolicy := start.Entitlement.SLAPolicyID

	result, err := h.onboarding.ChangeTier(ctx, TierChangeInput{
		TenantID:     tenantA,
		PreviousTier: domain.TierZero,
		NewTier:      domain.TierTwo,
		Trigger:      domain.TriggerTierUpgrade,
		Actor:        ops,
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)
	assert.Equal(t, domain.TierTwo, result.Tenant.Tier)
	require.NotNil(t, result.Entitlement)
	assert.Equal(t, domain.TierTwo, result.Entitlement.Tier)
	assert.NotEqual(t, oldPolicy, result.Entitlement.SLAPolicyID)

	log, err := h.repos.Events.ListByEntity(ctx, domain.EntityTenant, tenantA)
	require.NoError(t, err)
	changed := log[len(log)-1]
	assert.Equal(t, domain.EventTenantTierChanged, changed.Type)
	assert.Equal(t, "tier0", changed.PayloadString("previous_tier"))
	assert.Equal(t, "tier1", changed.PayloadString("stored_previous_tier"))

	again, err := h.onboarding.ChangeTier(ctx, TierChangeInput{TenantID: tenantA, NewTier: domain.TierTwo, Actor: ops})
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)

	// The phase is untouched by tier changes.
	view, err := h.onboarding.GetStatus(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseProvisioned, view.Session.Phase)

	_, err = h.onboarding.ChangeTier(ctx, TierChangeInput{TenantID: tenantA, NewTier: domain.PlanTier("tier7")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePolicyMissing))

	_, err = h.onboarding.ChangeTier(ctx, TierChangeInput{TenantID: "9f9f9f9f-0000-0000-0000-000000000000", NewTier: domain.TierOne})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

type flakyEntitlements struct {
	repository.EntitlementRepository
	upsertErr error
	getErr    error
}

func (f *flakyEntitlements) Upsert(ctx context.Context, ent *domain.Entitlement) error {
	if err := f.upsertErr; err != nil {
		f.upsertErr = nil
		return err
	}
	return f.EntitlementRepository.Upsert(ctx, ent)
}

func (f *flakyEntitlements) Get(ctx context.Context, tenantID string) (*domain.Entitlement, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.EntitlementRepository.Get(ctx, tenantID)
}

func TestRetriedStartRebuildsMissingEntitlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyEntitlements{EntitlementRepository: h.repos.Entitlements}
	svc := NewOnboardingService(OnboardingDependencies{
		TenantRepo:      h.repos.Tenants,
		OnboardingRepo:  h.repos.Onboarding,
		EntitlementRepo: flaky,
		PolicyRepo:      h.repos.Policies,
		Resolver:        entitlement.NewResolver(nil),
		Locker:          lock.NewKeyedMutex(),
		Clock:           h.clock,
		Logger:          zaptest.NewLogger(t),
	})
	input := StartOnboardingInput{TenantID: tenantA, Tier: domain.TierTwo}

	flaky.upsertErr = errors.New("connection reset")
	_, err := svc.Start(ctx, input)
	require.Error(t, err)
	_, err = h.repos.Entitlements.Get(ctx, tenantA)
	require.ErrorIs(t, err, repository.ErrNotFound)

	retried, err := svc.Start(ctx, input)
	require.NoError(t, err)
	assert.True(t, retried.AlreadyApplied)
	require.NotNil(t, retried.Entitlement)
	assert.Equal(t, domain.TierTwo, retried.Entitlement.Tier)

	stored, err := h.repos.Entitlements.Get(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, retried.Entitlement.SLAPolicyID, stored.SLAPolicyID)

	flaky.getErr = errors.New("connection reset")
	_, err = svc.Start(ctx, input)
	assert.ErrorContains(t, err, "connection reset")
	_, err = svc.ChangeTier(ctx, TierChangeInput{TenantID: tenantA, NewTier: domain.TierTwo})
	assert.ErrorContains(t, err, "connection reset")
}
