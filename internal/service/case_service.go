package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/clock"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/repository"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// CaseService coordinates case workflows: creation, status transitions, first response and
// reopen. Every mutation runs under the case lock and appends to the case log in the same
// write that updates the cached row.
type CaseService struct {
	cases      repository.CaseRepository
	tenants    repository.TenantRepository
	eventsRepo repository.EventRepository
	policies   *policyResolver
	breaches   *breachEvaluator
	locker     lock.Locker
	clock      clock.Clock
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// CaseDependencies bundles collaborators for the case service.
type CaseDependencies struct {
	CaseRepo        repository.CaseRepository
	TenantRepo      repository.TenantRepository
	EventRepo       repository.EventRepository
	OnboardingRepo  repository.OnboardingRepository
	EntitlementRepo repository.EntitlementRepository
	PolicyRepo      repository.SLAPolicyRepository
	Resolver        *entitlement.Resolver
	Locker          lock.Locker
	Clock           clock.Clock
	Dispatcher      events.Dispatcher
	Metrics         *observability.Metrics
	Logger          *zap.Logger
}

// CaseCreateInput describes case creation payload.
type CaseCreateInput struct {
	TenantID string
	Title    string
	Category domain.CaseCategory
	Priority domain.CasePriority
	Creator  domain.Actor
	IntakeID *string
}

// CaseResult is the state after a mutation. AlreadyApplied marks an idempotent no-op.
type CaseResult struct {
	Case           *domain.Case
	AlreadyApplied bool
}

// NewCaseService constructs the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "case_service"))
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &CaseService{
		cases:      deps.CaseRepo,
		tenants:    deps.TenantRepo,
		eventsRepo: deps.EventRepo,
		policies: &policyResolver{
			policies:     deps.PolicyRepo,
			entitlements: deps.EntitlementRepo,
			resolver:     deps.Resolver,
		},
		breaches: &breachEvaluator{
			cases:      deps.CaseRepo,
			events:     deps.EventRepo,
			onboarding: deps.OnboardingRepo,
			dispatcher: deps.Dispatcher,
			metrics:    deps.Metrics,
			logger:     logger,
		},
		locker:     deps.Locker,
		clock:      clk,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Create opens a case in status new and starts its SLA timer with the budgets of the
// tenant's current policy.
func (s *CaseService) Create(ctx context.Context, input CaseCreateInput) (*CaseResult, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", map[string]any{"field": "title"})
	}
	if input.TenantID == "" {
		return nil, apperrors.NewValidationError("tenant_id is required", map[string]any{"field": "tenant_id"})
	}
	if input.Creator.Type == "" {
		input.Creator = domain.SystemActor
	}
	if input.Priority == "" {
		input.Priority = domain.CasePriorityNormal
	}
	priority, ok := domain.ParseCasePriority(string(input.Priority))
	if !ok {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": string(input.Priority)})
	}
	input.Priority = priority
	if input.Category == "" {
		input.Category = domain.CaseCategorySupport
	}
	category, ok := domain.ParseCaseCategory(string(input.Category))
	if !ok {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": string(input.Category)})
	}
	input.Category = category

	tenant, err := s.tenants.GetByID(ctx, input.TenantID)
	if err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": input.TenantID})
	}

	now := s.clock.Now()
	policy, err := s.policies.policyFor(ctx, tenant.ID, tenant.Tier, now)
	if err != nil {
		return nil, err
	}

	c := &domain.Case{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Title:     title,
		Status:    domain.CaseStatusNew,
		Priority:  input.Priority,
		Category:  input.Category,
		CreatedBy: actorLabel(input.Creator),
		CreatedAt: now,
		UpdatedAt: now,
	}

	unlock, err := acquire(ctx, s.locker, lock.CaseKey(c.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	batch := newCaseBatch(c, input.Creator, now)
	batch.intakeID = input.IntakeID
	batch.add(domain.EventCaseCreated, map[string]any{
		"status":   string(c.Status),
		"priority": string(c.Priority),
		"category": string(c.Category),
		"title":    c.Title,
	})
	batch.add(domain.EventSLAStarted, map[string]any{
		"policy_id":              policy.ID,
		"tier":                   string(tenant.Tier),
		"first_response_minutes": policy.FirstResponseMinutes,
		"resolution_minutes":     policy.ResolutionMinutes,
	})
	c.Version = batch.version()

	if err := s.cases.Create(ctx, c, batch.events); err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": c.ID})
	}

	s.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("tenant_id", c.TenantID),
		zap.String("priority", string(c.Priority)))
	publish(ctx, s.dispatcher, batch.events)
	return &CaseResult{Case: c}, nil
}

// Transition moves a case along the status graph. Re-submitting the current status is a
// no-op success.
func (s *CaseService) Transition(ctx context.Context, caseID string, target domain.CaseStatus, actor domain.Actor, note string) (*CaseResult, error) {
	if _, ok := domain.ParseCaseStatus(string(target)); !ok {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": string(target)})
	}

	unlock, err := acquire(ctx, s.locker, lock.CaseKey(caseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	if c.Status == target {
		return &CaseResult{Case: c, AlreadyApplied: true}, nil
	}
	if !domain.IsValidTransition(c.Status, target) {
		return nil, apperrors.NewInvalidTransition(string(c.Status), string(target))
	}

	now := s.clock.Now()
	if _, err := s.breaches.evaluate(ctx, c, now, BreachSourceInline); err != nil {
		return nil, err
	}

	from := c.Status
	batch := newCaseBatch(c, actor, now)
	payload := map[string]any{"from": string(from), "to": string(target)}
	if note != "" {
		payload["note"] = note
	}
	batch.add(domain.EventCaseStatusChanged, payload)

	switch {
	case target.IsPending() && !from.IsPending():
		batch.add(domain.EventSLAPaused, map[string]any{"status": string(target)})
	case from.IsPending() && !target.IsPending():
		batch.add(domain.EventSLAResumed, map[string]any{"status": string(target)})
	}

	updated := *c
	updated.Status = target
	if target == domain.CaseStatusResolved {
		resolvedAt := now
		updated.ResolvedAt = &resolvedAt
	}
	updated.Version = batch.version()
	updated.UpdatedAt = now

	if err := s.cases.Save(ctx, &updated, c.Version, batch.events); err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}

	s.metrics.RecordTransition(string(from), string(target))
	s.logger.Info("case transitioned",
		zap.String("case_id", caseID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor_type", string(actor.Type)))
	publish(ctx, s.dispatcher, batch.events)
	return &CaseResult{Case: &updated}, nil
}

// RecordFirstResponse stops the first-response clock. Only the first call appends.
func (s *CaseService) RecordFirstResponse(ctx context.Context, caseID string, actor domain.Actor) (*CaseResult, error) {
	unlock, err := acquire(ctx, s.locker, lock.CaseKey(caseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	if c.FirstResponseAt != nil {
		return &CaseResult{Case: c, AlreadyApplied: true}, nil
	}
	if c.Status.IsTerminal() {
		return nil, apperrors.NewInvalidState("case is no longer active", map[string]any{"current_status": string(c.Status)})
	}

	now := s.clock.Now()
	if _, err := s.breaches.evaluate(ctx, c, now, BreachSourceInline); err != nil {
		return nil, err
	}

	batch := newCaseBatch(c, actor, now)
	batch.add(domain.EventSLAFirstResponse, nil)

	updated := *c
	respondedAt := now
	updated.FirstResponseAt = &respondedAt
	if actor.Type == domain.ActorAgent && actor.ID != "" && updated.OwnerID == nil {
		owner := actor.ID
		updated.OwnerID = &owner
	}
	updated.Version = batch.version()
	updated.UpdatedAt = now

	if err := s.cases.Save(ctx, &updated, c.Version, batch.events); err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	publish(ctx, s.dispatcher, batch.events)
	return &CaseResult{Case: &updated}, nil
}

// Reopen returns a closed case to open. The SLA start is kept and the resolution stamp is
// cleared, so the resolution clock again runs from that start and includes the time the case
// spent resolved or closed.
func (s *CaseService) Reopen(ctx context.Context, caseID string, actor domain.Actor, reason string) (*CaseResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("reason is required", map[string]any{"field": "reason"})
	}

	unlock, err := acquire(ctx, s.locker, lock.CaseKey(caseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	if c.Status != domain.CaseStatusClosed {
		return nil, apperrors.NewInvalidTransition(string(c.Status), string(domain.CaseStatusOpen))
	}

	now := s.clock.Now()
	batch := newCaseBatch(c, actor, now)
	batch.add(domain.EventCaseReopened, map[string]any{
		"from":   string(c.Status),
		"reason": strings.TrimSpace(reason),
	})

	updated := *c
	updated.Status = domain.CaseStatusOpen
	updated.ResolvedAt = nil
	updated.Version = batch.version()
	updated.UpdatedAt = now

	if err := s.cases.Save(ctx, &updated, c.Version, batch.events); err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}

	s.metrics.RecordTransition(string(domain.CaseStatusClosed), string(domain.CaseStatusOpen))
	s.logger.Info("case reopened", zap.String("case_id", caseID), zap.String("actor_type", string(actor.Type)))
	publish(ctx, s.dispatcher, batch.events)
	return &CaseResult{Case: &updated}, nil
}

// Get returns the cached case row.
func (s *CaseService) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	return c, nil
}

// History returns the case log in sequence order.
func (s *CaseService) History(ctx context.Context, caseID string) ([]domain.Event, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.eventsRepo.ListByEntity(ctx, domain.EntityCase, caseID)
}

// ListByTenant returns the most recent cases of a tenant.
func (s *CaseService) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Case, error) {
	return s.cases.ListByTenant(ctx, tenantID, limit)
}

// TenantHistory returns the tenant's most recent events across its cases, onboarding session
// and intakes, newest first.
func (s *CaseService) TenantHistory(ctx context.Context, tenantID string, limit int) ([]domain.Event, error) {
	if _, err := s.tenants.GetByID(ctx, tenantID); err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": tenantID})
	}
	events, err := s.eventsRepo.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, storageError(err, "events", map[string]any{"tenant_id": tenantID})
	}
	return events, nil
}

func actorLabel(actor domain.Actor) string {
	if actor.ID == "" {
		return string(actor.Type)
	}
	return string(actor.Type) + ":" + actor.ID
}
