package dto

import (
	"time"

	"github.com/idesk/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"required"`
	Priority    domain.TicketPriority `json:"priority" validate:"omitempty,max=32"`
	Tags        []string              `json:"tags" validate:"max=20,dive,required,max=50"`
	AssigneeID  *string               `json:"assignee_id" validate:"omitempty,min=1"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status  domain.TicketStatus `json:"status" validate:"required,oneof=OPEN IN_PROGRESS WAITING_VENDOR PENDING_USER RESOLVED CLOSED CANCELLED"`
	Comment string              `json:"comment" validate:"max=1000"`
}

// ChangePriorityRequest payload.
type ChangePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority" validate:"required,max=32"`
}

// TicketSummary response.
type TicketSummary struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	RequesterID string                `json:"requester_id"`
	AssigneeID  *string               `json:"assignee_id"`
	Title       string                `json:"title"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Tags        []string              `json:"tags"`
	SLAState    domain.SLAState       `json:"sla_state"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ClosedAt    *time.Time            `json:"closed_at"`
}

// FirstResponseResponse reports whether this call recorded the first response.
type FirstResponseResponse struct {
	Ticket   TicketSummary `json:"ticket"`
	Recorded bool          `json:"recorded"`
}

// TicketHistoryResponse describes audit entries.
type TicketHistoryResponse struct {
	ID            string                  `json:"id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	ChangedByType domain.SubjectType      `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	CreatedAt     time.Time               `json:"created_at"`
}
