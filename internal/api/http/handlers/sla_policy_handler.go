package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/idesk/helpdesk/internal/api/dto"
	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/service"
	"github.com/idesk/helpdesk/internal/sla"
)

// SLAPolicyHandler serves the admin SLA policy endpoints.
type SLAPolicyHandler struct {
	policies  *service.PolicyService
	validator *dto.Validator
}

// NewSLAPolicyHandler constructs handler.
func NewSLAPolicyHandler(policies *service.PolicyService, validator *dto.Validator) *SLAPolicyHandler {
	return &SLAPolicyHandler{policies: policies, validator: validator}
}

// List GET /admin/sla/policies.
func (h *SLAPolicyHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": policyResponses(h.policies.List())})
}

// Upsert PUT /admin/sla/policies/:priority.
func (h *SLAPolicyHandler) Upsert(c *fiber.Ctx) error {
	var req dto.UpsertPolicyRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}
	policy, err := h.policies.Upsert(c.UserContext(), domain.TicketPriority(c.Params("priority")), req.ResolutionTimeMinutes, req.ResponseTimeMinutes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policyResponse(policy)})
}

// Reset POST /admin/sla/policies/reset.
func (h *SLAPolicyHandler) Reset(c *fiber.Ctx) error {
	policies, err := h.policies.ResetToDefaults(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policyResponses(policies)})
}

// Remove DELETE /admin/sla/policies/:priority.
func (h *SLAPolicyHandler) Remove(c *fiber.Ctx) error {
	if err := h.policies.Remove(c.UserContext(), domain.TicketPriority(c.Params("priority"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func policyResponses(policies []domain.SLAPolicy) []dto.PolicyResponse {
	out := make([]dto.PolicyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyResponse(p))
	}
	return out
}

func policyResponse(p domain.SLAPolicy) dto.PolicyResponse {
	return dto.PolicyResponse{
		Priority:              p.Priority,
		ResolutionTimeMinutes: p.ResolutionTimeMinutes,
		ResponseTimeMinutes:   p.ResponseTimeMinutes,
		Builtin:               sla.IsBuiltin(p.Priority),
		UpdatedAt:             p.UpdatedAt,
	}
}
