package domain

import "time"

// SLAState is the state of a ticket's resolution clock.
type SLAState string

const (
	SLAStateNotStarted SLAState = "NOT_STARTED"
	SLAStateRunning    SLAState = "RUNNING"
	SLAStatePaused     SLAState = "PAUSED"
	SLAStateStopped    SLAState = "STOPPED"
)

// SLAPolicy holds the time targets for one priority tier.
type SLAPolicy struct {
	Priority              TicketPriority
	ResolutionTimeMinutes int
	ResponseTimeMinutes   int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ResolutionTime returns the resolution target as a duration.
func (p SLAPolicy) ResolutionTime() time.Duration {
	return time.Duration(p.ResolutionTimeMinutes) * time.Minute
}

// ResponseTime returns the first-response target as a duration.
func (p SLAPolicy) ResponseTime() time.Duration {
	return time.Duration(p.ResponseTimeMinutes) * time.Minute
}

// TicketSLA is the SLA bookkeeping stored on every ticket.
//
// WaitingVendorAt is set only while the clock is paused. TotalWaitingVendor only
// grows, by the exact length of each closed pause. FirstResponseAt and ResolvedAt
// are written once.
type TicketSLA struct {
	State                 SLAState
	StartedAt             *time.Time
	FirstResponseAt       *time.Time
	FirstResponseTarget   *time.Time
	FirstResponseBreached bool
	ResolvedAt            *time.Time
	WaitingVendorAt       *time.Time
	TotalWaitingVendor    time.Duration
}

// TotalWaitingVendorMinutes returns the accumulated pause time in whole minutes.
func (s TicketSLA) TotalWaitingVendorMinutes() int64 {
	return int64(s.TotalWaitingVendor / time.Minute)
}

// DerivedState infers the state from the nullable timestamps. Rows written before the
// explicit state column existed rely on it.
func (s TicketSLA) DerivedState() SLAState {
	switch {
	case s.ResolvedAt != nil:
		return SLAStateStopped
	case s.StartedAt == nil:
		return SLAStateNotStarted
	case s.WaitingVendorAt != nil:
		return SLAStatePaused
	default:
		return SLAStateRunning
	}
}

// CurrentState returns the stored state, falling back to DerivedState when unset.
func (s TicketSLA) CurrentState() SLAState {
	if s.State == "" {
		return s.DerivedState()
	}
	return s.State
}
