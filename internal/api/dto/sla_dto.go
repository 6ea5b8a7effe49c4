package dto

import (
	"time"

	"github.com/idesk/helpdesk/internal/domain"
)

// UpsertPolicyRequest payload for PUT /admin/sla/policies/:priority.
type UpsertPolicyRequest struct {
	ResolutionTimeMinutes int `json:"resolution_time_minutes" validate:"required,gt=0"`
	ResponseTimeMinutes   int `json:"response_time_minutes" validate:"required,gt=0"`
}

// PolicyResponse describes one SLA tier.
type PolicyResponse struct {
	Priority              domain.TicketPriority `json:"priority"`
	ResolutionTimeMinutes int                   `json:"resolution_time_minutes"`
	ResponseTimeMinutes   int                   `json:"response_time_minutes"`
	Builtin               bool                  `json:"builtin"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// BreachOverrideRequest payload for clearing the first-response breach flag.
type BreachOverrideRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ReminderResponse is a crossed reminder threshold.
type ReminderResponse struct {
	Target      string    `json:"target"`
	LeadMinutes int64     `json:"lead_minutes"`
	Deadline    time.Time `json:"deadline"`
}

// SLAResponse is the SLA view of a ticket at EvaluatedAt.
type SLAResponse struct {
	TicketID                   string                `json:"ticket_id"`
	Priority                   domain.TicketPriority `json:"priority"`
	State                      domain.SLAState       `json:"state"`
	Classification             string                `json:"classification"`
	StartedAt                  *time.Time            `json:"started_at"`
	FirstResponseAt            *time.Time            `json:"first_response_at"`
	FirstResponseTarget        *time.Time            `json:"first_response_target"`
	FirstResponseBreached      bool                  `json:"first_response_breached"`
	ResolutionDeadline         *time.Time            `json:"resolution_deadline"`
	ResolvedAt                 *time.Time            `json:"resolved_at"`
	WaitingVendorAt            *time.Time            `json:"waiting_vendor_at"`
	TotalWaitingVendorMinutes  int64                 `json:"total_waiting_vendor_minutes"`
	ResponseRemainingSeconds   int64                 `json:"response_remaining_seconds"`
	ResolutionRemainingSeconds int64                 `json:"resolution_remaining_seconds"`
	Reminders                  []ReminderResponse    `json:"reminders"`
	EvaluatedAt                time.Time             `json:"evaluated_at"`
}
