package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sapphire/support-core/internal/clock"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/repository"
	"github.com/sapphire/support-core/internal/repository/memory"
	"github.com/sapphire/support-core/internal/routing"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var (
	agent = domain.Actor{Type: domain.ActorAgent, ID: "agent-1"}
	ops   = domain.Actor{Type: domain.ActorOps, ID: "ops-1"}
)

type harness struct {
	store      *memory.Store
	repos      repository.Set
	clock      *clock.Manual
	dispatcher events.Dispatcher
	cases      *CaseService
	sla        *SLAService
	onboarding *OnboardingService
	intake     *IntakeService
}

// newHarness wires every service over one in-memory store. tier0 uses 60/1440 minute budgets.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	repos := store.Repositories()
	clk := clock.NewManual(t0)
	locker := lock.NewKeyedMutex()
	dispatcher := events.NewInMemoryDispatcher(logger)
	resolver := entitlement.NewResolver(map[domain.PlanTier]entitlement.Budget{
		domain.TierZero: {FirstResponseMinutes: 60, ResolutionMinutes: 1440},
	})

	h := &harness{store: store, repos: repos, clock: clk, dispatcher: dispatcher}
	h.cases = NewCaseService(CaseDependencies{
		CaseRepo:        repos.Cases,
		TenantRepo:      repos.Tenants,
		EventRepo:       repos.Events,
		OnboardingRepo:  repos.Onboarding,
		EntitlementRepo: repos.Entitlements,
		PolicyRepo:      repos.Policies,
		Resolver:        resolver,
		Locker:          locker,
		Clock:           clk,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	h.sla = NewSLAService(SLADependencies{
		CaseRepo:       repos.Cases,
		EventRepo:      repos.Events,
		OnboardingRepo: repos.Onboarding,
		Locker:         locker,
		Clock:          clk,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	h.onboarding = NewOnboardingService(OnboardingDependencies{
		TenantRepo:      repos.Tenants,
		OnboardingRepo:  repos.Onboarding,
		EntitlementRepo: repos.Entitlements,
		PolicyRepo:      repos.Policies,
		Resolver:        resolver,
		Locker:          locker,
		Clock:           clk,
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	h.intake = NewIntakeService(IntakeDependencies{
		IntakeRepo:  repos.Intakes,
		TenantRepo:  repos.Tenants,
		CaseService: h.cases,
		Router:      routing.NewRouter(0, 0),
		Clock:       clk,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	return h
}

// seedTenant stores a tenant with no onboarding session, so breaches are never suppressed.
func (h *harness) seedTenant(t *testing.T, name string, tier domain.PlanTier, primaryDomain string) *domain.Tenant {
	t.Helper()
	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Tier:      tier,
		Version:   1,
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	if primaryDomain != "" {
		tenant.PrimaryDomain = &primaryDomain
	}
	ev := &domain.Event{
		Sequence:   1,
		EntityType: domain.EntityTenant,
		EntityID:   tenant.ID,
		TenantID:   tenant.ID,
		Type:       domain.EventTenantCreated,
		Actor:      domain.SystemActor,
		Payload:    map[string]any{"name": name, "tier": string(tier)},
		OccurredAt: h.clock.Now(),
	}
	require.NoError(t, h.repos.Tenants.Create(context.Background(), tenant, []*domain.Event{ev}))
	return tenant
}

func (h *harness) createCase(t *testing.T, tenantID string) *domain.Case {
	t.Helper()
	result, err := h.cases.Create(context.Background(), CaseCreateInput{
		TenantID: tenantID,
		Title:    "Cannot export invoices",
		Creator:  agent,
	})
	require.NoError(t, err)
	return result.Case
}

func (h *harness) caseLog(t *testing.T, caseID string) []domain.Event {
	t.Helper()
	log, err := h.repos.Events.ListByEntity(context.Background(), domain.EntityCase, caseID)
	require.NoError(t, err)
	return log
}

func countEvents(log []domain.Event, eventType domain.EventType) int {
	n := 0
	for _, ev := range log {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}
