package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/idesk/helpdesk/internal/api/dto"
	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/service"
)

// TicketSLAHandler serves ticket lifecycle and SLA endpoints.
type TicketSLAHandler struct {
	tickets   *service.TicketSLAService
	validator *dto.Validator
}

// NewTicketSLAHandler constructs handler.
func NewTicketSLAHandler(tickets *service.TicketSLAService, validator *dto.Validator) *TicketSLAHandler {
	return &TicketSLAHandler{tickets: tickets, validator: validator}
}

// CreateTicket POST /tickets.
func (h *TicketSLAHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := principalActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Tags:        req.Tags,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /tickets?status=&priority=&sla_state=&page=&page_size=.
func (h *TicketSLAHandler) ListTickets(c *fiber.Ctx) error {
	filter := repository.TicketFilter{}
	for _, s := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(s))
	}
	for _, p := range splitQuery(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(p))
	}
	for _, s := range splitQuery(c.Query("sla_state")) {
		filter.SLAStates = append(filter.SLAStates, domain.SLAState(s))
	}
	if assignee := c.Query("assignee_id"); assignee != "" {
		filter.AssigneeID = &assignee
	}
	if q := c.Query("q"); q != "" {
		filter.SearchTerm = &q
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	tickets, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetSLA GET /tickets/:id/sla.
func (h *TicketSLAHandler) GetSLA(c *fiber.Ctx) error {
	view, err := h.tickets.GetSLA(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": slaResponse(view)})
}

// ChangeStatus POST /tickets/:id/status.
func (h *TicketSLAHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, err := principalActor(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ChangeStatus(c.UserContext(), actor, c.Params("id"), req.Status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ChangePriority POST /tickets/:id/priority.
func (h *TicketSLAHandler) ChangePriority(c *fiber.Ctx) error {
	actor, err := principalActor(c)
	if err != nil {
		return err
	}
	var req dto.ChangePriorityRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.ChangePriority(c.UserContext(), actor, c.Params("id"), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// RecordFirstResponse POST /tickets/:id/first-response.
func (h *TicketSLAHandler) RecordFirstResponse(c *fiber.Ctx) error {
	actor, err := principalActor(c)
	if err != nil {
		return err
	}
	ticket, recorded, err := h.tickets.RecordFirstResponse(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FirstResponseResponse{Ticket: ticketSummary(ticket), Recorded: recorded}})
}

// BreachOverride POST /tickets/:id/sla/breach-override.
func (h *TicketSLAHandler) BreachOverride(c *fiber.Ctx) error {
	actor, err := principalActor(c)
	if err != nil {
		return err
	}
	var req dto.BreachOverrideRequest
	if err := parseBody(c, h.validator, &req); err != nil {
		return err
	}
	if _, err := h.tickets.ClearFirstResponseBreach(c.UserContext(), actor, c.Params("id"), req.Reason); err != nil {
		return err
	}
	view, err := h.tickets.GetSLA(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": slaResponse(view)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketSLAHandler) ListHistory(c *fiber.Ctx) error {
	entries, err := h.tickets.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	tags := ticket.Tags
	if tags == nil {
		tags = []string{}
	}
	return dto.TicketSummary{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		RequesterID: ticket.RequesterID,
		AssigneeID:  ticket.AssigneeID,
		Title:       ticket.Title,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		Tags:        tags,
		SLAState:    ticket.SLA.CurrentState(),
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		ClosedAt:    ticket.ClosedAt,
	}
}

func slaResponse(view *service.SLAView) dto.SLAResponse {
	state := view.Ticket.SLA
	res := view.Result
	reminders := make([]dto.ReminderResponse, 0, len(res.Reminders))
	for _, r := range res.Reminders {
		reminders = append(reminders, dto.ReminderResponse{
			Target:      string(r.Target),
			LeadMinutes: int64(r.Lead / time.Minute),
			Deadline:    r.Deadline,
		})
	}
	return dto.SLAResponse{
		TicketID:                   view.Ticket.ID,
		Priority:                   view.Ticket.Priority,
		State:                      state.CurrentState(),
		Classification:             string(res.Classification),
		StartedAt:                  state.StartedAt,
		FirstResponseAt:            state.FirstResponseAt,
		FirstResponseTarget:        state.FirstResponseTarget,
		FirstResponseBreached:      state.FirstResponseBreached,
		ResolutionDeadline:         res.ResolutionDeadline,
		ResolvedAt:                 state.ResolvedAt,
		WaitingVendorAt:            state.WaitingVendorAt,
		TotalWaitingVendorMinutes:  state.TotalWaitingVendorMinutes(),
		ResponseRemainingSeconds:   int64(res.ResponseRemaining.Seconds()),
		ResolutionRemainingSeconds: int64(res.ResolutionRemaining.Seconds()),
		Reminders:                  reminders,
		EvaluatedAt:                view.EvaluatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:            entry.ID,
			ChangeType:    entry.ChangeType,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			OldValue:      entry.OldValue,
			NewValue:      entry.NewValue,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return resp
}
