package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/clock"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/repository"
	"github.com/sapphire/support-core/internal/routing"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// IntakeService records normalized inbound messages with their classification, decides the
// route once and carries it out.
type IntakeService struct {
	intakes    repository.IntakeRepository
	tenants    repository.TenantRepository
	cases      *CaseService
	router     routing.Router
	clock      clock.Clock
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// IntakeDependencies bundles collaborators for intake processing.
type IntakeDependencies struct {
	IntakeRepo  repository.IntakeRepository
	TenantRepo  repository.TenantRepository
	CaseService *CaseService
	Router      routing.Router
	Clock       clock.Clock
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// IntakeInput is what the intake normalizer hands over.
type IntakeInput struct {
	TenantID  string
	Source    domain.IntakeSource
	FromEmail string
	Subject   string
	BodyText  string
}

// ClassificationInput is the AI collaborator's verdict, stored as received.
type ClassificationInput struct {
	Intent            domain.Intent
	Urgency           domain.Urgency
	Confidence        float64
	ComplianceFlag    bool
	RecommendedAction domain.RoutingAction
	ModelUsed         string
}

// IntakeResult is the persisted decision and the case it produced, if any.
type IntakeResult struct {
	IntakeID string
	TenantID string
	Decision *domain.RoutingDecision
	Case     *domain.Case
}

// NewIntakeService constructs the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &IntakeService{
		intakes:    deps.IntakeRepo,
		tenants:    deps.TenantRepo,
		cases:      deps.CaseService,
		router:     deps.Router,
		clock:      clk,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("component", "intake_service")),
	}
}

// ProcessIntake stores the intake and its classification, routes it and performs the action.
func (s *IntakeService) ProcessIntake(ctx context.Context, input IntakeInput, cls ClassificationInput) (*IntakeResult, error) {
	if err := validateIntake(&input, &cls); err != nil {
		return nil, err
	}

	tenant, err := s.resolveTenant(ctx, input)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	intake := &domain.Intake{
		ID:        uuid.NewString(),
		Source:    input.Source,
		TenantID:  tenant.ID,
		FromEmail: input.FromEmail,
		Subject:   input.Subject,
		BodyText:  input.BodyText,
		CreatedAt: now,
	}
	classification := &domain.Classification{
		ID:                uuid.NewString(),
		IntakeID:          intake.ID,
		Intent:            cls.Intent,
		Urgency:           cls.Urgency,
		Confidence:        cls.Confidence,
		ComplianceFlag:    cls.ComplianceFlag,
		RecommendedAction: cls.RecommendedAction,
		ModelUsed:         cls.ModelUsed,
		CreatedAt:         now,
	}

	customer := domain.Actor{Type: domain.ActorCustomer, ID: input.FromEmail}
	batch := newBatch(domain.EntityIntake, intake.ID, tenant.ID, 0, customer, now)
	intakeID := intake.ID
	batch.intakeID = &intakeID
	batch.add(domain.EventIntakeReceived, map[string]any{
		"source":          string(intake.Source),
		"intent":          string(cls.Intent),
		"urgency":         string(cls.Urgency),
		"confidence":      cls.Confidence,
		"compliance_flag": cls.ComplianceFlag,
	})
	if err := s.intakes.Create(ctx, intake, classification, batch.events); err != nil {
		return nil, storageError(err, "intake", map[string]any{"intake_id": intake.ID})
	}
	published := batch.events

	action := s.router.Decide(routing.Input{
		Intent:         cls.Intent,
		Urgency:        cls.Urgency,
		Tier:           tenant.Tier,
		Confidence:     cls.Confidence,
		ComplianceFlag: cls.ComplianceFlag,
	})

	result := &IntakeResult{IntakeID: intake.ID, TenantID: tenant.ID}
	switch action {
	case domain.ActionCreateCase, domain.ActionEscalateOps:
		created, err := s.cases.Create(ctx, CaseCreateInput{
			TenantID: tenant.ID,
			Title:    caseTitle(input.Subject),
			Category: categoryFor(cls),
			Priority: cls.Urgency.Priority(),
			Creator:  customer,
			IntakeID: &intakeID,
		})
		if err != nil {
			return nil, err
		}
		result.Case = created.Case
		// Critical urgency escalates even when the route itself is a plain case.
		if action == domain.ActionEscalateOps || cls.Urgency == domain.UrgencyCritical {
			escalated, err := s.cases.Transition(ctx, created.Case.ID, domain.CaseStatusEscalated, domain.SystemActor, "escalated by intake routing")
			if err != nil {
				return nil, err
			}
			result.Case = escalated.Case
		}
	}

	decision := &domain.RoutingDecision{
		IntakeID:  intake.ID,
		Action:    action,
		Tier:      tenant.Tier,
		DecidedAt: s.clock.Now(),
	}
	if result.Case != nil {
		caseID := result.Case.ID
		decision.CaseID = &caseID
	}

	routed := newBatch(domain.EntityIntake, intake.ID, tenant.ID, batch.version(), domain.SystemActor, decision.DecidedAt)
	routed.intakeID = &intakeID
	routed.caseID = decision.CaseID
	routedPayload := map[string]any{"action": string(action), "tier": string(tenant.Tier)}
	if decision.CaseID != nil {
		routedPayload["case_id"] = *decision.CaseID
	}
	routed.add(domain.EventIntakeRouted, routedPayload)
	if action == domain.ActionRouteSales {
		routed.add(domain.EventCRMLeadCreated, map[string]any{
			"from_email": input.FromEmail,
			"subject":    input.Subject,
		})
	}
	if err := s.intakes.SaveDecision(ctx, decision, routed.events); err != nil {
		return nil, storageError(err, "routing decision", map[string]any{"intake_id": intake.ID})
	}
	published = append(published, routed.events...)
	result.Decision = decision

	s.metrics.RecordRouting(string(action))
	s.logger.Info("intake routed",
		zap.String("intake_id", intake.ID),
		zap.String("tenant_id", tenant.ID),
		zap.String("action", string(action)))
	publish(ctx, s.dispatcher, published)
	return result, nil
}

// resolveTenant uses the explicit tenant id, then the sender's domain, then the shared
// Prospect tenant.
func (s *IntakeService) resolveTenant(ctx context.Context, input IntakeInput) (*domain.Tenant, error) {
	if input.TenantID != "" {
		tenant, err := s.tenants.GetByID(ctx, input.TenantID)
		if err != nil {
			return nil, storageError(err, "tenant", map[string]any{"tenant_id": input.TenantID})
		}
		return tenant, nil
	}

	if d := domain.EmailDomain(input.FromEmail); d != "" {
		tenant, err := s.tenants.GetByDomain(ctx, d)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storageError(err, "tenant", map[string]any{"domain": d})
		}
	}
	return s.prospectTenant(ctx)
}

func (s *IntakeService) prospectTenant(ctx context.Context) (*domain.Tenant, error) {
	tenant, err := s.tenants.GetByName(ctx, domain.ProspectTenantName)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err, "tenant", map[string]any{"name": domain.ProspectTenantName})
	}

	now := s.clock.Now()
	tenant = &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      domain.ProspectTenantName,
		Tier:      domain.TierZero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	batch := newBatch(domain.EntityTenant, tenant.ID, tenant.ID, 0, domain.SystemActor, now)
	batch.add(domain.EventTenantCreated, map[string]any{"name": tenant.Name, "tier": string(tenant.Tier)})
	tenant.Version = batch.version()

	if err := s.tenants.Create(ctx, tenant, batch.events); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			existing, getErr := s.tenants.GetByName(ctx, domain.ProspectTenantName)
			if getErr != nil {
				return nil, storageError(getErr, "tenant", map[string]any{"name": domain.ProspectTenantName})
			}
			return existing, nil
		}
		return nil, storageError(err, "tenant", map[string]any{"name": domain.ProspectTenantName})
	}
	publish(ctx, s.dispatcher, batch.events)
	return tenant, nil
}

func validateIntake(input *IntakeInput, cls *ClassificationInput) error {
	input.FromEmail = strings.TrimSpace(input.FromEmail)
	input.Subject = strings.TrimSpace(input.Subject)
	if input.FromEmail == "" {
		return apperrors.NewValidationError("from_email is required", map[string]any{"field": "from_email"})
	}
	switch input.Source {
	case "":
		input.Source = domain.IntakeSourceEmail
	case domain.IntakeSourceEmail, domain.IntakeSourcePortal:
	default:
		return apperrors.NewValidationError("unknown source", map[string]any{"source": string(input.Source)})
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return apperrors.NewValidationError("confidence must be within [0,1]", map[string]any{"confidence": cls.Confidence})
	}
	cls.Intent = domain.ParseIntent(string(cls.Intent))
	cls.Urgency = domain.ParseUrgency(string(cls.Urgency))
	return nil
}

func caseTitle(subject string) string {
	if subject == "" {
		return "(no subject)"
	}
	return subject
}

func categoryFor(cls ClassificationInput) domain.CaseCategory {
	if cls.ComplianceFlag {
		return domain.CaseCategoryCompliance
	}
	switch cls.Intent {
	case domain.IntentBilling:
		return domain.CaseCategoryBilling
	case domain.IntentCompliance:
		return domain.CaseCategoryCompliance
	case domain.IntentOutage:
		return domain.CaseCategoryOutage
	case domain.IntentOnboarding:
		return domain.CaseCategoryOnboarding
	}
	return domain.CaseCategorySupport
}
