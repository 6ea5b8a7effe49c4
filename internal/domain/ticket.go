package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen          TicketStatus = "OPEN"
	TicketStatusInProgress    TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingVendor TicketStatus = "WAITING_VENDOR"
	TicketStatusPendingUser   TicketStatus = "PENDING_USER"
	TicketStatusResolved      TicketStatus = "RESOLVED"
	TicketStatusClosed        TicketStatus = "CLOSED"
	TicketStatusCancelled     TicketStatus = "CANCELLED"
)

// Terminal reports whether the status ends the SLA cycle.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusResolved, TicketStatusClosed, TicketStatusCancelled:
		return true
	}
	return false
}

// TicketPriority names an SLA tier. The four constants are built in; admins may add more.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// BuiltinPriorities lists the tiers that always exist after a reset.
func BuiltinPriorities() []TicketPriority {
	return []TicketPriority{
		TicketPriorityLow,
		TicketPriorityMedium,
		TicketPriorityHigh,
		TicketPriorityCritical,
	}
}

// Normalize trims and upper-cases a priority name.
func (p TicketPriority) Normalize() TicketPriority {
	return TicketPriority(strings.ToUpper(strings.TrimSpace(string(p))))
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          string
	ExternalKey string
	RequesterID string
	AssigneeID  *string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	Tags        []string
	SLA         TicketSLA
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}
