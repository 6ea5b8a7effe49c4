package sla

import (
	"time"

	"github.com/idesk/helpdesk/internal/domain"
)

// PolicyLookup resolves a priority to its policy. *PolicyStore satisfies it.
type PolicyLookup interface {
	Get(priority domain.TicketPriority) (domain.SLAPolicy, bool)
}

// Clock computes SLA deadlines from stored ticket fields. It holds no mutable state.
type Clock struct {
	policies PolicyLookup
}

// NewClock builds a Clock over the given policies.
func NewClock(policies PolicyLookup) *Clock {
	return &Clock{policies: policies}
}

// Policy returns the policy for a priority or a NOT_FOUND error.
func (c *Clock) Policy(priority domain.TicketPriority) (domain.SLAPolicy, error) {
	p, ok := c.policies.Get(priority)
	if !ok {
		return domain.SLAPolicy{}, policyNotFound(priority)
	}
	return p, nil
}

// FirstResponseTarget returns startedAt + response time, or nil when not started.
func (c *Clock) FirstResponseTarget(startedAt *time.Time, priority domain.TicketPriority) (*time.Time, error) {
	if startedAt == nil {
		return nil, nil
	}
	p, err := c.Policy(priority)
	if err != nil {
		return nil, err
	}
	target := startedAt.Add(p.ResponseTime())
	return &target, nil
}

// ResolutionDeadline returns startedAt + resolution time + all paused time, counting an
// open pause up to now. It returns nil when the clock has not started.
func (c *Clock) ResolutionDeadline(state domain.TicketSLA, priority domain.TicketPriority, now time.Time) (*time.Time, error) {
	if state.StartedAt == nil {
		return nil, nil
	}
	p, err := c.Policy(priority)
	if err != nil {
		return nil, err
	}
	deadline := state.StartedAt.Add(p.ResolutionTime() + PausedDuration(state, now))
	return &deadline, nil
}

// PausedDuration returns closed pause time plus the open pause measured at now.
// An open pause that starts after now contributes nothing.
func PausedDuration(state domain.TicketSLA, now time.Time) time.Duration {
	total := state.TotalWaitingVendor
	if state.WaitingVendorAt != nil {
		if open := now.Sub(*state.WaitingVendorAt); open > 0 {
			total += open
		}
	}
	return total
}
