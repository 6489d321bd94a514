package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/config"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/events"
)

// NotificationService turns lifecycle events that need a human into notifications. Delivery
// is an external collaborator; the stubs only log what would be sent.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "notifications")),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(domain.EventSLABreachedFirstResponse, n.handleBreach)
	n.dispatcher.Subscribe(domain.EventSLABreachedResolution, n.handleBreach)
	n.dispatcher.Subscribe(domain.EventCaseStatusChanged, n.handleStatusChanged)
	n.dispatcher.Subscribe(domain.EventCRMLeadCreated, n.handleLead)
	n.dispatcher.Subscribe(domain.EventOnboardingFailed, n.handleOnboardingFailed)
}

func (n *NotificationService) handleBreach(ctx context.Context, event domain.Event) error {
	n.logger.Warn("SLABreached",
		zap.String("case_id", event.EntityID),
		zap.String("tenant_id", event.TenantID),
		zap.String("kind", string(event.Type)),
		zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleStatusChanged(ctx context.Context, event domain.Event) error {
	if domain.CaseStatus(event.PayloadString("to")) != domain.CaseStatusEscalated {
		return nil
	}
	n.logger.Info("CaseEscalated",
		zap.String("case_id", event.EntityID),
		zap.String("tenant_id", event.TenantID),
		zap.String("from", event.PayloadString("from")))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleLead(ctx context.Context, event domain.Event) error {
	n.logger.Info("CRMLeadCreated",
		zap.String("intake_id", event.EntityID),
		zap.String("from_email", event.PayloadString("from_email")))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleOnboardingFailed(ctx context.Context, event domain.Event) error {
	n.logger.Warn("OnboardingFailed",
		zap.String("tenant_id", event.TenantID),
		zap.String("phase", event.PayloadString("phase")),
		zap.String("reason", event.PayloadString("reason")))
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event domain.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("entity_id", event.EntityID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event domain.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("entity_id", event.EntityID),
		zap.String("event_type", string(event.Type)))
}
