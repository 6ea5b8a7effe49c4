package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus        TicketChangeType = "STATUS_CHANGE"
	ChangeTypePriority      TicketChangeType = "PRIORITY_CHANGE"
	ChangeTypeSLATransition TicketChangeType = "SLA_TRANSITION"
	ChangeTypeSLAOverride   TicketChangeType = "SLA_OVERRIDE"
)

// TicketHistory is an immutable audit trail entry. SLA_TRANSITION entries double as the
// per-interval pause log.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType SubjectType
	ChangedByID   *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}
