package service

import (
	"context"
	"errors"
	"strings"
	"time"

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

// OnboardingService runs the tenant onboarding state machine and tier changes. Both share
// the tenant lock.
type OnboardingService struct {
	tenants      repository.TenantRepository
	sessions     repository.OnboardingRepository
	entitlements repository.EntitlementRepository
	policies     *policyResolver
	locker       lock.Locker
	clock        clock.Clock
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// OnboardingDependencies bundles collaborators for onboarding.
type OnboardingDependencies struct {
	TenantRepo      repository.TenantRepository
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

// StartOnboardingInput identifies the tenant and what triggered onboarding. Name, domain and
// tier are only used when the tenant does not exist yet.
type StartOnboardingInput struct {
	TenantID      string
	TenantName    string
	PrimaryDomain string
	Tier          domain.PlanTier
	Trigger       domain.OnboardingTrigger
	Actor         domain.Actor
}

// OnboardingResult is the session after a mutation.
type OnboardingResult struct {
	Session        *domain.OnboardingSession
	Entitlement    *domain.Entitlement
	AlreadyApplied bool
	PhaseAdvanced  bool
	FromPhase      domain.OnboardingPhase
}

// TierChangeInput is an upstream plan change.
type TierChangeInput struct {
	TenantID     string
	PreviousTier domain.PlanTier
	NewTier      domain.PlanTier
	Trigger      domain.OnboardingTrigger
	Actor        domain.Actor
}

// TierChangeResult is the tenant after a tier change.
type TierChangeResult struct {
	Tenant         *domain.Tenant
	Entitlement    *domain.Entitlement
	AlreadyApplied bool
}

// OnboardingStatusView is the read model of a tenant's onboarding.
type OnboardingStatusView struct {
	Session     *domain.OnboardingSession
	Tenant      *domain.Tenant
	Entitlement *domain.Entitlement
}

// NewOnboardingService constructs the service.
func NewOnboardingService(deps OnboardingDependencies) *OnboardingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &OnboardingService{
		tenants:      deps.TenantRepo,
		sessions:     deps.OnboardingRepo,
		entitlements: deps.EntitlementRepo,
		policies: &policyResolver{
			policies:     deps.PolicyRepo,
			entitlements: deps.EntitlementRepo,
			resolver:     deps.Resolver,
		},
		locker:     deps.Locker,
		clock:      clk,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("component", "onboarding_service")),
	}
}

// Start looks up or creates the tenant and its session. A second call returns the existing
// session untouched.
func (s *OnboardingService) Start(ctx context.Context, input StartOnboardingInput) (*OnboardingResult, error) {
	if _, err := uuid.Parse(input.TenantID); err != nil {
		return nil, apperrors.NewValidationError("tenant_id must be a UUID", map[string]any{"tenant_id": input.TenantID})
	}
	if input.Trigger == "" {
		input.Trigger = domain.TriggerRegistration
	}
	if input.Tier == "" {
		input.Tier = domain.TierOne
	}
	if _, ok := domain.ParsePlanTier(string(input.Tier)); !ok {
		return nil, apperrors.NewPolicyMissing(string(input.Tier))
	}
	if input.Actor.Type == "" {
		input.Actor = domain.SystemActor
	}

	unlock, err := acquire(ctx, s.locker, lock.TenantKey(input.TenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now()
	tenant, err := s.lookupOrCreateTenant(ctx, input, now)
	if err != nil {
		return nil, err
	}

	existing, err := s.sessions.GetByTenant(ctx, tenant.ID)
	switch {
	case err == nil:
		ent, err := s.currentEntitlement(ctx, tenant, &existing.Status, now)
		if err != nil {
			return nil, err
		}
		return &OnboardingResult{Session: existing, Entitlement: ent, AlreadyApplied: true}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenant.ID})
	}

	session := &domain.OnboardingSession{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		Phase:         domain.PhaseProvisioned,
		Status:        domain.OnboardingActive,
		TriggerSource: input.Trigger,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	seedSteps(session, domain.PhaseProvisioned)

	batch := newBatch(domain.EntityOnboarding, session.ID, tenant.ID, 0, input.Actor, now)
	batch.add(domain.EventOnboardingStarted, map[string]any{
		"phase":   string(session.Phase),
		"trigger": string(session.TriggerSource),
		"tier":    string(tenant.Tier),
	})
	session.Version = batch.version()

	if err := s.sessions.Create(ctx, session, batch.events); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Lost a race with another instance that does not share this lock.
			existing, getErr := s.sessions.GetByTenant(ctx, tenant.ID)
			if getErr != nil {
				return nil, storageError(getErr, "onboarding session", map[string]any{"tenant_id": tenant.ID})
			}
			ent, entErr := s.currentEntitlement(ctx, tenant, &existing.Status, now)
			if entErr != nil {
				return nil, entErr
			}
			return &OnboardingResult{Session: existing, Entitlement: ent, AlreadyApplied: true}, nil
		}
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenant.ID})
	}

	ent, err := s.policies.sync(ctx, tenant.ID, tenant.Tier, &session.Status, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("onboarding started",
		zap.String("tenant_id", tenant.ID),
		zap.String("session_id", session.ID),
		zap.String("trigger", string(session.TriggerSource)))
	publish(ctx, s.dispatcher, batch.events)
	return &OnboardingResult{Session: session, Entitlement: ent}, nil
}

func (s *OnboardingService) lookupOrCreateTenant(ctx context.Context, input StartOnboardingInput, now time.Time) (*domain.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, input.TenantID)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": input.TenantID})
	}

	name := strings.TrimSpace(input.TenantName)
	if name == "" {
		name = "tenant-" + input.TenantID[:8]
	}
	tenant = &domain.Tenant{
		ID:        input.TenantID,
		Name:      name,
		Tier:      input.Tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d := strings.ToLower(strings.TrimSpace(input.PrimaryDomain)); d != "" {
		tenant.PrimaryDomain = &d
	}

	batch := newBatch(domain.EntityTenant, tenant.ID, tenant.ID, 0, input.Actor, now)
	payload := map[string]any{"name": tenant.Name, "tier": string(tenant.Tier)}
	if tenant.PrimaryDomain != nil {
		payload["primary_domain"] = *tenant.PrimaryDomain
	}
	batch.add(domain.EventTenantCreated, payload)
	tenant.Version = batch.version()

	if err := s.tenants.Create(ctx, tenant, batch.events); err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": tenant.ID, "name": tenant.Name})
	}
	publish(ctx, s.dispatcher, batch.events)
	return tenant, nil
}

// AdvanceStep completes a step of the current phase. When it was the last open step the
// session moves exactly one phase forward and the next phase's steps are seeded; completing
// the last phase-3 step completes the session.
func (s *OnboardingService) AdvanceStep(ctx context.Context, tenantID, stepKey string, metadata map[string]any, actor domain.Actor) (*OnboardingResult, error) {
	stepKey = strings.TrimSpace(stepKey)
	if stepKey == "" {
		return nil, apperrors.NewValidationError("step_key is required", map[string]any{"field": "step_key"})
	}

	unlock, err := acquire(ctx, s.locker, lock.TenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if stepCompleted(session, stepKey) {
		return &OnboardingResult{Session: session, AlreadyApplied: true}, nil
	}
	if session.Status != domain.OnboardingActive {
		return nil, apperrors.NewInvalidState("onboarding session is not active", map[string]any{
			"current_status": string(session.Status),
			"current_phase":  string(session.Phase),
		})
	}

	step := session.FindStep(stepKey)
	if step == nil {
		return nil, apperrors.NewUnknownStep(stepKey, string(session.Phase))
	}

	now := s.clock.Now()
	expected := session.Version
	batch := newBatch(domain.EntityOnboarding, session.ID, session.TenantID, expected, actor, now)

	completedAt := now
	step.Completed = true
	step.CompletedAt = &completedAt
	if len(metadata) > 0 {
		step.Metadata = metadata
	}
	batch.add(domain.EventOnboardingStepCompleted, map[string]any{
		"phase":    string(session.Phase),
		"step_key": stepKey,
	})

	result := &OnboardingResult{Session: session, FromPhase: session.Phase}
	statusChanged := false
	if session.PhaseComplete() {
		next, _ := session.Phase.Next()
		if next == domain.PhaseCompleted {
			s.markCompleted(session, batch, now)
			statusChanged = true
		} else {
			batch.add(domain.EventOnboardingPhaseAdvanced, map[string]any{
				"from_phase": string(session.Phase),
				"to_phase":   string(next),
			})
			session.Phase = next
			seedSteps(session, next)
		}
		result.PhaseAdvanced = true
	}

	session.Version = batch.version()
	session.UpdatedAt = now
	if err := s.sessions.Save(ctx, session, expected, batch.events); err != nil {
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenantID})
	}

	if result.PhaseAdvanced {
		s.metrics.RecordPhaseAdvance(string(session.Phase))
		s.logger.Info("onboarding phase advanced",
			zap.String("tenant_id", tenantID),
			zap.String("from", string(result.FromPhase)),
			zap.String("to", string(session.Phase)))
	}
	if statusChanged {
		if result.Entitlement, err = s.resync(ctx, session, now); err != nil {
			return nil, err
		}
	}
	publish(ctx, s.dispatcher, batch.events)
	return result, nil
}

// Pause holds an active session. The phase is kept.
func (s *OnboardingService) Pause(ctx context.Context, tenantID, reason string, actor domain.Actor) (*OnboardingResult, error) {
	return s.setStatus(ctx, tenantID, actor, reason,
		[]domain.OnboardingStatus{domain.OnboardingActive}, domain.OnboardingPaused, domain.EventOnboardingPaused)
}

// Resume reactivates a paused session at the phase it was paused in.
func (s *OnboardingService) Resume(ctx context.Context, tenantID string, actor domain.Actor) (*OnboardingResult, error) {
	return s.setStatus(ctx, tenantID, actor, "",
		[]domain.OnboardingStatus{domain.OnboardingPaused}, domain.OnboardingActive, domain.EventOnboardingResumed)
}

// Fail moves an active or paused session to the failed side-state.
func (s *OnboardingService) Fail(ctx context.Context, tenantID, reason string, actor domain.Actor) (*OnboardingResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("reason is required", map[string]any{"field": "reason"})
	}
	return s.setStatus(ctx, tenantID, actor, reason,
		[]domain.OnboardingStatus{domain.OnboardingActive, domain.OnboardingPaused}, domain.OnboardingFailed, domain.EventOnboardingFailed)
}

func (s *OnboardingService) setStatus(ctx context.Context, tenantID string, actor domain.Actor, reason string,
	from []domain.OnboardingStatus, to domain.OnboardingStatus, eventType domain.EventType) (*OnboardingResult, error) {
	unlock, err := acquire(ctx, s.locker, lock.TenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, status := range from {
		if session.Status == status {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperrors.NewInvalidState("operation not allowed in current onboarding status", map[string]any{
			"current_status": string(session.Status),
			"target_status":  string(to),
		})
	}

	now := s.clock.Now()
	expected := session.Version
	batch := newBatch(domain.EntityOnboarding, session.ID, session.TenantID, expected, actor, now)
	payload := map[string]any{"phase": string(session.Phase), "from_status": string(session.Status)}
	if reason != "" {
		payload["reason"] = reason
	}
	batch.add(eventType, payload)

	session.Status = to
	session.StatusReason = reason
	session.Version = batch.version()
	session.UpdatedAt = now
	if err := s.sessions.Save(ctx, session, expected, batch.events); err != nil {
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenantID})
	}

	ent, err := s.resync(ctx, session, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("onboarding status changed",
		zap.String("tenant_id", tenantID),
		zap.String("status", string(to)),
		zap.String("reason", reason))
	publish(ctx, s.dispatcher, batch.events)
	return &OnboardingResult{Session: session, Entitlement: ent}, nil
}

// Complete finishes a session sitting in phase 3. Completing twice is a no-op.
func (s *OnboardingService) Complete(ctx context.Context, tenantID string, actor domain.Actor) (*OnboardingResult, error) {
	unlock, err := acquire(ctx, s.locker, lock.TenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.OnboardingCompleted {
		return &OnboardingResult{Session: session, AlreadyApplied: true}, nil
	}
	if session.Phase != domain.PhaseIndependent || session.Status != domain.OnboardingActive {
		return nil, apperrors.NewInvalidState("onboarding can only be completed from an active phase_3_independent session", map[string]any{
			"current_status": string(session.Status),
			"current_phase":  string(session.Phase),
		})
	}

	now := s.clock.Now()
	expected := session.Version
	batch := newBatch(domain.EntityOnboarding, session.ID, session.TenantID, expected, actor, now)
	from := session.Phase
	s.markCompleted(session, batch, now)
	session.Version = batch.version()
	session.UpdatedAt = now

	if err := s.sessions.Save(ctx, session, expected, batch.events); err != nil {
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenantID})
	}
	ent, err := s.resync(ctx, session, now)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPhaseAdvance(string(domain.PhaseCompleted))
	publish(ctx, s.dispatcher, batch.events)
	return &OnboardingResult{Session: session, Entitlement: ent, PhaseAdvanced: true, FromPhase: from}, nil
}

func (s *OnboardingService) markCompleted(session *domain.OnboardingSession, batch *eventBatch, now time.Time) {
	batch.add(domain.EventOnboardingCompleted, map[string]any{"from_phase": string(session.Phase)})
	completedAt := now
	session.Phase = domain.PhaseCompleted
	session.Status = domain.OnboardingCompleted
	session.StatusReason = ""
	session.CompletedAt = &completedAt
}

// ChangeTier applies an upstream plan change. The stored tier wins over the reported
// previous tier; both are recorded. The onboarding phase is not touched.
func (s *OnboardingService) ChangeTier(ctx context.Context, input TierChangeInput) (*TierChangeResult, error) {
	if _, ok := domain.ParsePlanTier(string(input.NewTier)); !ok {
		return nil, apperrors.NewPolicyMissing(string(input.NewTier))
	}
	if input.Actor.Type == "" {
		input.Actor = domain.SystemActor
	}

	unlock, err := acquire(ctx, s.locker, lock.TenantKey(input.TenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	tenant, err := s.tenants.GetByID(ctx, input.TenantID)
	if err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": input.TenantID})
	}

	now := s.clock.Now()
	var onboarding *domain.OnboardingStatus
	if session, err := s.sessions.GetByTenant(ctx, tenant.ID); err == nil {
		onboarding = &session.Status
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenant.ID})
	}

	if tenant.Tier == input.NewTier {
		ent, err := s.currentEntitlement(ctx, tenant, onboarding, now)
		if err != nil {
			return nil, err
		}
		return &TierChangeResult{Tenant: tenant, Entitlement: ent, AlreadyApplied: true}, nil
	}

	// Resolve before writing so an unknown policy leaves the tenant untouched.
	if _, err := s.policies.resolver.Budget(input.NewTier); err != nil {
		return nil, err
	}

	expected := tenant.Version
	batch := newBatch(domain.EntityTenant, tenant.ID, tenant.ID, expected, input.Actor, now)
	batch.add(domain.EventTenantTierChanged, map[string]any{
		"previous_tier":        string(input.PreviousTier),
		"stored_previous_tier": string(tenant.Tier),
		"new_tier":             string(input.NewTier),
		"trigger_source":       string(input.Trigger),
	})

	updated := *tenant
	updated.Tier = input.NewTier
	updated.Version = batch.version()
	updated.UpdatedAt = now
	if err := s.tenants.Save(ctx, &updated, expected, batch.events); err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": tenant.ID})
	}

	ent, err := s.policies.sync(ctx, tenant.ID, updated.Tier, onboarding, now)
	if err != nil {
		return nil, err
	}

	if input.PreviousTier != "" && input.PreviousTier != tenant.Tier {
		s.logger.Warn("tier change reported a stale previous tier",
			zap.String("tenant_id", tenant.ID),
			zap.String("reported", string(input.PreviousTier)),
			zap.String("stored", string(tenant.Tier)))
	}
	s.logger.Info("tenant tier changed",
		zap.String("tenant_id", tenant.ID),
		zap.String("from", string(tenant.Tier)),
		zap.String("to", string(updated.Tier)))
	publish(ctx, s.dispatcher, batch.events)
	return &TierChangeResult{Tenant: &updated, Entitlement: ent}, nil
}

// GetStatus returns the session together with the tenant and its entitlement snapshot.
func (s *OnboardingService) GetStatus(ctx context.Context, tenantID string) (*OnboardingStatusView, error) {
	session, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": tenantID})
	}
	view := &OnboardingStatusView{Session: session, Tenant: tenant}
	if ent, err := s.entitlements.Get(ctx, tenantID); err == nil {
		view.Entitlement = ent
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err, "entitlement", map[string]any{"tenant_id": tenantID})
	}
	return view, nil
}

func (s *OnboardingService) load(ctx context.Context, tenantID string) (*domain.OnboardingSession, error) {
	session, err := s.sessions.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "onboarding session", map[string]any{"tenant_id": tenantID})
	}
	return session, nil
}

// currentEntitlement returns the stored snapshot, rebuilding it when an earlier write stopped
// before the snapshot was stored or left it on another tier.
func (s *OnboardingService) currentEntitlement(ctx context.Context, tenant *domain.Tenant, onboarding *domain.OnboardingStatus, now time.Time) (*domain.Entitlement, error) {
	ent, err := s.entitlements.Get(ctx, tenant.ID)
	switch {
	case err == nil && ent.Tier == tenant.Tier:
		return ent, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, storageError(err, "entitlement", map[string]any{"tenant_id": tenant.ID})
	}
	s.logger.Warn("rebuilding missing entitlement snapshot", zap.String("tenant_id", tenant.ID))
	return s.policies.sync(ctx, tenant.ID, tenant.Tier, onboarding, now)
}

func (s *OnboardingService) resync(ctx context.Context, session *domain.OnboardingSession, now time.Time) (*domain.Entitlement, error) {
	tenant, err := s.tenants.GetByID(ctx, session.TenantID)
	if err != nil {
		return nil, storageError(err, "tenant", map[string]any{"tenant_id": session.TenantID})
	}
	status := session.Status
	return s.policies.sync(ctx, tenant.ID, tenant.Tier, &status, now)
}

func seedSteps(session *domain.OnboardingSession, phase domain.OnboardingPhase) {
	for _, def := range domain.StepsForPhase(phase) {
		if existingStep(session, phase, def.Key) {
			continue
		}
		session.Steps = append(session.Steps, domain.OnboardingStep{
			SessionID: session.ID,
			Phase:     phase,
			Key:       def.Key,
			Label:     def.Label,
		})
	}
}

func existingStep(session *domain.OnboardingSession, phase domain.OnboardingPhase, key string) bool {
	for _, step := range session.Steps {
		if step.Phase == phase && step.Key == key {
			return true
		}
	}
	return false
}

// stepCompleted reports whether key was already completed in this or an earlier phase, so
// a retried completion is answered without touching the session.
func stepCompleted(session *domain.OnboardingSession, key string) bool {
	for _, step := range session.Steps {
		if step.Key == key && step.Completed {
			return true
		}
	}
	return false
}
