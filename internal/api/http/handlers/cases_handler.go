package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sapphire/support-core/internal/api/dto"
	"github.com/sapphire/support-core/internal/auth"
	"github.com/sapphire/support-core/internal/service"
	apperrors "github.com/sapphire/support-core/pkg/util/errorutil"
)

// CasesHandler exposes case lifecycle and SLA endpoints.
type CasesHandler struct {
	cases *service.CaseService
	sla   *service.SLAService
}

// NewCasesHandler constructs handler.
func NewCasesHandler(caseService *service.CaseService, slaService *service.SLAService) *CasesHandler {
	return &CasesHandler{cases: caseService, sla: slaService}
}

// CreateCase POST /v1/cases.
func (h *CasesHandler) CreateCase(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TenantID == "" || strings.TrimSpace(req.Title) == "" {
		return apperrors.NewValidationError("tenant_id and title required", nil)
	}

	result, err := h.cases.Create(c.UserContext(), service.CaseCreateInput{
		TenantID: req.TenantID,
		Title:    req.Title,
		Category: req.Category,
		Priority: req.Priority,
		Creator:  principal.Actor(),
		IntakeID: req.IntakeID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": caseMutation(result)})
}

// GetCase GET /v1/cases/:id.
func (h *CasesHandler) GetCase(c *fiber.Ctx) error {
	found, err := h.cases.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(found)})
}

// ListTenantCases GET /v1/tenants/:id/cases.
func (h *CasesHandler) ListTenantCases(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	cases, err := h.cases.ListByTenant(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	items := make([]dto.CaseResponse, 0, len(cases))
	for _, item := range cases {
		items = append(items, dto.NewCaseResponse(item))
	}
	return c.JSON(fiber.Map{"data": items})
}

// TransitionCase POST /v1/cases/:id/transition.
func (h *CasesHandler) TransitionCase(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TransitionCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TargetStatus == "" {
		return apperrors.NewValidationError("target_status required", nil)
	}

	result, err := h.cases.Transition(c.UserContext(), c.Params("id"), req.TargetStatus, principal.Actor(), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseMutation(result)})
}

// RecordFirstResponse POST /v1/cases/:id/first-response.
func (h *CasesHandler) RecordFirstResponse(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	result, err := h.cases.RecordFirstResponse(c.UserContext(), c.Params("id"), principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseMutation(result)})
}

// ReopenCase POST /v1/cases/:id/reopen.
func (h *CasesHandler) ReopenCase(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReopenCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.cases.Reopen(c.UserContext(), c.Params("id"), principal.Actor(), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": caseMutation(result)})
}

// GetSLAStatus GET /v1/cases/:id/sla.
func (h *CasesHandler) GetSLAStatus(c *fiber.Ctx) error {
	status, err := h.sla.GetCaseSLAStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSLAStatusResponse(status)})
}

// ListEvents GET /v1/cases/:id/events.
func (h *CasesHandler) ListEvents(c *fiber.Ctx) error {
	history, err := h.cases.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewEventResponses(history)})
}

// ListTenantEvents GET /v1/tenants/:id/events.
func (h *CasesHandler) ListTenantEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := h.cases.TenantHistory(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewEventResponses(events)})
}

func caseMutation(result *service.CaseResult) dto.CaseMutationResponse {
	return dto.CaseMutationResponse{
		Case:           dto.NewCaseResponse(result.Case),
		AlreadyApplied: result.AlreadyApplied,
	}
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}
