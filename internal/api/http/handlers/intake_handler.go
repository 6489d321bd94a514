package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sapphire/support-core/internal/api/dto"
	"github.com/sapphire/support-core/internal/service"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// IntakeHandler accepts classified inbound messages.
type IntakeHandler struct {
	service *service.IntakeService
}

// NewIntakeHandler constructs handler.
func NewIntakeHandler(intakeService *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{service: intakeService}
}

// ProcessIntake POST /v1/intake.
func (h *IntakeHandler) ProcessIntake(c *fiber.Ctx) error {
	var req dto.IntakeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	cls := req.Classification
	result, err := h.service.ProcessIntake(c.UserContext(), service.IntakeInput{
		TenantID:  req.TenantID,
		Source:    req.Source,
		FromEmail: req.FromEmail,
		Subject:   req.Subject,
		BodyText:  req.BodyText,
	}, service.ClassificationInput{
		Intent:            cls.Intent,
		Urgency:           cls.Urgency,
		Confidence:        cls.Confidence,
		ComplianceFlag:    cls.ComplianceFlag,
		RecommendedAction: cls.RecommendedAction,
		ModelUsed:         cls.ModelUsed,
	})
	if err != nil {
		return err
	}

	resp := dto.IntakeResponse{
		IntakeID:  result.IntakeID,
		TenantID:  result.TenantID,
		Action:    result.Decision.Action,
		Tier:      result.Decision.Tier,
		CaseID:    result.Decision.CaseID,
		DecidedAt: result.Decision.DecidedAt,
	}
	if result.Case != nil {
		caseResp := dto.NewCaseResponse(result.Case)
		resp.Case = &caseResp
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}
