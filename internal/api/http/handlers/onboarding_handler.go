package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sapphire/support-core/internal/api/dto"
	"github.com/sapphire/support-core/internal/service"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// OnboardingHandler exposes onboarding and tier endpoints.
type OnboardingHandler struct {
	service *service.OnboardingService
}

// NewOnboardingHandler constructs handler.
func NewOnboardingHandler(onboardingService *service.OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{service: onboardingService}
}

// Start POST /v1/onboarding.
func (h *OnboardingHandler) Start(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StartOnboardingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TenantID == "" {
		return apperrors.NewValidationError("tenant_id required", nil)
	}

	result, err := h.service.Start(c.UserContext(), service.StartOnboardingInput{
		TenantID:      req.TenantID,
		TenantName:    req.TenantName,
		PrimaryDomain: req.PrimaryDomain,
		Tier:          req.Tier,
		Trigger:       req.TriggerSource,
		Actor:         principal.Actor(),
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if result.AlreadyApplied {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": onboardingMutation(result)})
}

// GetStatus GET /v1/onboarding/:tenant_id.
func (h *OnboardingHandler) GetStatus(c *fiber.Ctx) error {
	view, err := h.service.GetStatus(c.UserContext(), c.Params("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.OnboardingStatusResponse{
		Tenant:      dto.NewTenantResponse(view.Tenant),
		Session:     dto.NewOnboardingSessionResponse(view.Session),
		Entitlement: dto.NewEntitlementResponse(view.Entitlement),
	}})
}

// AdvanceStep POST /v1/onboarding/:tenant_id/steps.
func (h *OnboardingHandler) AdvanceStep(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AdvanceStepRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.StepKey) == "" {
		return apperrors.NewValidationError("step_key required", nil)
	}

	result, err := h.service.AdvanceStep(c.UserContext(), c.Params("tenant_id"), req.StepKey, req.Metadata, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": onboardingMutation(result)})
}

// Pause POST /v1/onboarding/:tenant_id/pause.
func (h *OnboardingHandler) Pause(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StatusReasonRequest
	_ = c.BodyParser(&req)
	result, err := h.service.Pause(c.UserContext(), c.Params("tenant_id"), req.Reason, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": onboardingMutation(result)})
}

// Resume POST /v1/onboarding/:tenant_id/resume.
func (h *OnboardingHandler) Resume(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	result, err := h.service.Resume(c.UserContext(), c.Params("tenant_id"), principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": onboardingMutation(result)})
}

// Fail POST /v1/onboarding/:tenant_id/fail.
func (h *OnboardingHandler) Fail(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StatusReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.service.Fail(c.UserContext(), c.Params("tenant_id"), req.Reason, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": onboardingMutation(result)})
}

// Complete POST /v1/onboarding/:tenant_id/complete.
func (h *OnboardingHandler) Complete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	result, err := h.service.Complete(c.UserContext(), c.Params("tenant_id"), principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": onboardingMutation(result)})
}

// ChangeTier POST /v1/tenants/:id/tier.
func (h *OnboardingHandler) ChangeTier(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ChangeTierRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.NewTier == "" {
		return apperrors.NewValidationError("new_tier required", nil)
	}

	result, err := h.service.ChangeTier(c.UserContext(), service.TierChangeInput{
		TenantID:     c.Params("id"),
		PreviousTier: req.PreviousTier,
		NewTier:      req.NewTier,
		Trigger:      req.TriggerSource,
		Actor:        principal.Actor(),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TierChangeResponse{
		Tenant:         dto.NewTenantResponse(result.Tenant),
		Entitlement:    dto.NewEntitlementResponse(result.Entitlement),
		AlreadyApplied: result.AlreadyApplied,
	}})
}

func onboardingMutation(result *service.OnboardingResult) dto.OnboardingMutationResponse {
	return dto.OnboardingMutationResponse{
		Session:        dto.NewOnboardingSessionResponse(result.Session),
		Entitlement:    dto.NewEntitlementResponse(result.Entitlement),
		AlreadyApplied: result.AlreadyApplied,
		PhaseAdvanced:  result.PhaseAdvanced,
		FromPhase:      result.FromPhase,
	}
}
