package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/clock"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/repository"
)

// Breach detection paths.
const (
	BreachSourceInline = "inline"
	BreachSourceSweep  = "sweep"
)

// SLAService reads case SLA state and appends due breaches.
type SLAService struct {
	cases    repository.CaseRepository
	breaches *breachEvaluator
	locker   lock.Locker
	clock    clock.Clock
}

// SLADependencies bundles collaborators for the SLA service.
type SLADependencies struct {
	CaseRepo       repository.CaseRepository
	EventRepo      repository.EventRepository
	OnboardingRepo repository.OnboardingRepository
	Locker         lock.Locker
	Clock          clock.Clock
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewSLAService constructs the service.
func NewSLAService(deps SLADependencies) *SLAService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &SLAService{
		cases: deps.CaseRepo,
		breaches: &breachEvaluator{
			cases:      deps.CaseRepo,
			events:     deps.EventRepo,
			onboarding: deps.OnboardingRepo,
			dispatcher: deps.Dispatcher,
			metrics:    deps.Metrics,
			logger:     logger.With(zap.String("component", "sla_service")),
		},
		locker: deps.Locker,
		clock:  clk,
	}
}

// GetCaseSLAStatus runs the inline breach check and renders the timeline.
func (s *SLAService) GetCaseSLAStatus(ctx context.Context, caseID string) (*domain.SLAStatus, error) {
	unlock, err := acquire(ctx, s.locker, lock.CaseKey(caseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}

	now := s.clock.Now()
	outcome, err := s.breaches.evaluate(ctx, c, now, BreachSourceInline)
	if err != nil {
		return nil, err
	}

	suppressed := outcome.suppressed
	if !suppressed {
		if suppressed, err = s.breaches.suppressed(ctx, c.TenantID); err != nil {
			return nil, err
		}
	}

	status := outcome.timeline.Status(now)
	status.CaseID = c.ID
	status.Status = c.Status
	status.BreachSuppressed = suppressed
	return &status, nil
}

// CheckBreaches appends any breach that is due for the case and returns what was appended.
func (s *SLAService) CheckBreaches(ctx context.Context, caseID, source string) ([]domain.EventType, error) {
	unlock, err := acquire(ctx, s.locker, lock.CaseKey(caseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, storageError(err, "case", map[string]any{"case_id": caseID})
	}
	if c.Status.IsTerminal() {
		return nil, nil
	}

	outcome, err := s.breaches.evaluate(ctx, c, s.clock.Now(), source)
	if err != nil {
		return nil, err
	}
	return outcome.appended, nil
}

// ListOpenCases pages through unresolved cases for the sweep.
func (s *SLAService) ListOpenCases(ctx context.Context, afterID string, limit int) ([]*domain.Case, error) {
	return s.cases.ListOpen(ctx, afterID, limit)
}
