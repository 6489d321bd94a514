package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/repository"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// eventBatch collects consecutive log entries for one entity. Sequences continue from the
// entity version the batch was opened at.
type eventBatch struct {
	entityType domain.EntityType
	entityID   string
	tenantID   string
	caseID     *string
	intakeID   *string
	actor      domain.Actor
	at         time.Time
	next       int64
	events     []*domain.Event
}

func newBatch(entityType domain.EntityType, entityID, tenantID string, version int64, actor domain.Actor, at time.Time) *eventBatch {
	return &eventBatch{
		entityType: entityType,
		entityID:   entityID,
		tenantID:   tenantID,
		actor:      actor,
		at:         at,
		next:       version + 1,
	}
}

func newCaseBatch(c *domain.Case, actor domain.Actor, at time.Time) *eventBatch {
	b := newBatch(domain.EntityCase, c.ID, c.TenantID, c.Version, actor, at)
	caseID := c.ID
	b.caseID = &caseID
	return b
}

func (b *eventBatch) add(eventType domain.EventType, payload map[string]any) *domain.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := &domain.Event{
		Sequence:   b.next,
		EntityType: b.entityType,
		EntityID:   b.entityID,
		TenantID:   b.tenantID,
		CaseID:     b.caseID,
		IntakeID:   b.intakeID,
		Type:       eventType,
		Actor:      b.actor,
		Payload:    payload,
		OccurredAt: b.at,
	}
	b.next++
	b.events = append(b.events, ev)
	return ev
}

// version is the entity version once the batch is applied.
func (b *eventBatch) version() int64 { return b.next - 1 }

func (b *eventBatch) empty() bool { return len(b.events) == 0 }

func publish(ctx context.Context, dispatcher events.Dispatcher, batch []*domain.Event) {
	if dispatcher == nil || len(batch) == 0 {
		return
	}
	out := make([]domain.Event, 0, len(batch))
	for _, ev := range batch {
		out = append(out, *ev)
	}
	_ = dispatcher.Publish(ctx, out...)
}

// storageError maps repository sentinels onto the error taxonomy.
func storageError(err error, resource string, details map[string]any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, details)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict(resource+" was modified concurrently", details)
	case errors.Is(err, repository.ErrAlreadyExists):
		return apperrors.NewConflict(resource+" already exists", details)
	}
	return fmt.Errorf("%s storage: %w", resource, err)
}

func acquire(ctx context.Context, locker lock.Locker, key string) (func(), error) {
	unlock, err := locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperrors.NewConflict("entity is busy, retry", map[string]any{"key": key})
		}
		return nil, err
	}
	return unlock, nil
}

// breachEvaluator is the single idempotent breach check shared by the inline read path, the
// case mutations and the sweep. Callers hold the case lock.
type breachEvaluator struct {
	cases      repository.CaseRepository
	events     repository.EventRepository
	onboarding repository.OnboardingRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

type breachOutcome struct {
	timeline   domain.SLATimeline
	appended   []domain.EventType
	suppressed bool
}

// evaluate folds the case log, appends due breach events unless the tenant's onboarding
// suppresses them and updates c to the stored version.
func (b *breachEvaluator) evaluate(ctx context.Context, c *domain.Case, now time.Time, source string) (breachOutcome, error) {
	log, err := b.events.ListByEntity(ctx, domain.EntityCase, c.ID)
	if err != nil {
		return breachOutcome{}, fmt.Errorf("load case log: %w", err)
	}
	out := breachOutcome{timeline: domain.BuildTimeline(log)}

	due := out.timeline.DueBreaches(now)
	if len(due) == 0 {
		return out, nil
	}

	suppressed, err := b.suppressed(ctx, c.TenantID)
	if err != nil {
		return out, err
	}
	if suppressed {
		out.suppressed = true
		for _, kind := range due {
			b.metrics.RecordBreachSuppressed(string(kind))
		}
		return out, nil
	}

	batch := newCaseBatch(c, domain.SystemActor, now)
	for _, kind := range due {
		budget := out.timeline.ResolutionBudget
		if kind == domain.EventSLABreachedFirstResponse {
			budget = out.timeline.FirstResponseBudget
		}
		batch.add(kind, map[string]any{
			"budget_minutes":  int(budget / time.Minute),
			"elapsed_seconds": int64(out.timeline.Elapsed(now) / time.Second),
			"source":          source,
		})
	}

	updated := *c
	updated.Version = batch.version()
	updated.UpdatedAt = now
	if err := b.cases.Save(ctx, &updated, c.Version, batch.events); err != nil {
		return out, storageError(err, "case", map[string]any{"case_id": c.ID})
	}
	*c = updated

	for _, ev := range batch.events {
		out.timeline.BreachedFirstResponse = out.timeline.BreachedFirstResponse || ev.Type == domain.EventSLABreachedFirstResponse
		out.timeline.BreachedResolution = out.timeline.BreachedResolution || ev.Type == domain.EventSLABreachedResolution
		out.appended = append(out.appended, ev.Type)
		b.metrics.RecordBreach(string(ev.Type), source)
	}
	b.logger.Info("sla breached",
		zap.String("case_id", c.ID),
		zap.String("tenant_id", c.TenantID),
		zap.String("source", source),
		zap.Any("kinds", out.appended))
	publish(ctx, b.dispatcher, batch.events)
	return out, nil
}

func (b *breachEvaluator) suppressed(ctx context.Context, tenantID string) (bool, error) {
	if b.onboarding == nil {
		return false, nil
	}
	session, err := b.onboarding.GetByTenant(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load onboarding session: %w", err)
	}
	return session.SuppressesBreaches(), nil
}

// policyResolver finds or creates the SLA policy for a tenant's tier and keeps the
// entitlement snapshot in line with it.
type policyResolver struct {
	policies     repository.SLAPolicyRepository
	entitlements repository.EntitlementRepository
	resolver     *entitlement.Resolver
}

func (p *policyResolver) policyFor(ctx context.Context, tenantID string, tier domain.PlanTier, now time.Time) (*domain.SLAPolicy, error) {
	if ent, err := p.entitlements.Get(ctx, tenantID); err == nil && ent.Tier == tier && ent.SLAPolicyID != "" {
		policy, err := p.policies.GetByID(ctx, ent.SLAPolicyID)
		if err == nil {
			return policy, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load sla policy: %w", err)
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}

	budget, err := p.resolver.Budget(tier)
	if err != nil {
		return nil, err
	}
	policy, err := p.policies.GetOrCreate(ctx, &domain.SLAPolicy{
		TenantID:             tenantID,
		Tier:                 tier,
		FirstResponseMinutes: budget.FirstResponseMinutes,
		ResolutionMinutes:    budget.ResolutionMinutes,
		CreatedAt:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("store sla policy: %w", err)
	}
	return policy, nil
}

// sync recomputes and overwrites the tenant's entitlement snapshot.
func (p *policyResolver) sync(ctx context.Context, tenantID string, tier domain.PlanTier, onboarding *domain.OnboardingStatus, now time.Time) (*domain.Entitlement, error) {
	budget, err := p.resolver.Budget(tier)
	if err != nil {
		return nil, err
	}
	policy, err := p.policies.GetOrCreate(ctx, &domain.SLAPolicy{
		TenantID:             tenantID,
		Tier:                 tier,
		FirstResponseMinutes: budget.FirstResponseMinutes,
		ResolutionMinutes:    budget.ResolutionMinutes,
		CreatedAt:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("store sla policy: %w", err)
	}
	ent, err := p.resolver.Resolve(tenantID, tier, policy, onboarding, now)
	if err != nil {
		return nil, err
	}
	if err := p.entitlements.Upsert(ctx, ent); err != nil {
		return nil, fmt.Errorf("store entitlement: %w", err)
	}
	return ent, nil
}
