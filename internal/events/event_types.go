package events

import (
	"time"

	"github.com/idesk/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventSLATransition         EventType = "sla_transition"

	EventSLAResponseBreached   EventType = "sla_response_breached"
	EventSLAResolutionBreached EventType = "sla_resolution_breached"
	EventSLAResponseAtRisk     EventType = "sla_response_at_risk"
	EventSLAResolutionAtRisk   EventType = "sla_resolution_at_risk"
	EventSLAReminder           EventType = "sla_reminder"
	EventSLABreachCleared      EventType = "sla_breach_cleared"
)

// SLAEventTypes lists the events produced by breach detection.
func SLAEventTypes() []EventType {
	return []EventType{
		EventSLAResponseBreached,
		EventSLAResolutionBreached,
		EventSLAResponseAtRisk,
		EventSLAResolutionAtRisk,
		EventSLAReminder,
	}
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.SubjectType `json:"type"`
	ID   *string            `json:"id,omitempty"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{Type: a.Type, ID: a.ID}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string                `json:"external_key"`
	Priority    domain.TicketPriority `json:"priority"`
	Title       string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// SLATransitionPayload describes one clock state change.
type SLATransitionPayload struct {
	From               domain.SLAState `json:"from"`
	To                 domain.SLAState `json:"to"`
	TotalWaitingVendor int64           `json:"total_waiting_vendor_minutes"`
}

// SLARiskPayload is attached to breach, at-risk and reminder events.
type SLARiskPayload struct {
	ExternalKey    string                `json:"external_key"`
	Priority       domain.TicketPriority `json:"priority"`
	Classification string                `json:"classification"`
	Target         string                `json:"target,omitempty"`
	Deadline       *time.Time            `json:"deadline,omitempty"`
	LeadMinutes    int64                 `json:"lead_minutes,omitempty"`
	AssigneeID     *string               `json:"assignee_id,omitempty"`
}
