package sla

import (
	"time"

	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/domain"
)

const (
	opStart         = "start"
	opFirstResponse = "record first response on"
	opPause         = "pause"
	opResume        = "resume"
	opStop          = "stop"
	opPriority      = "change priority on"
)

// Tracker applies SLA state transitions to tickets.
//
// Every method builds the new state on a copy and only assigns it to the ticket when
// the transition succeeds. Callers serialize calls per ticket.
type Tracker struct {
	clock  *Clock
	logger *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(clock *Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{clock: clock, logger: logger}
}

// Start begins the resolution clock.
func (tr *Tracker) Start(t *domain.Ticket, now time.Time) error {
	state := t.SLA.CurrentState()
	if state != domain.SLAStateNotStarted {
		return invalidTransition(opStart, state)
	}

	next := t.SLA
	started := now
	next.StartedAt = &started
	target, err := tr.clock.FirstResponseTarget(next.StartedAt, t.Priority)
	if err != nil {
		return err
	}
	next.FirstResponseTarget = target
	next.State = domain.SLAStateRunning

	t.SLA = next
	return nil
}

// RecordFirstResponse stores the first agent reply. A repeated call is logged and
// ignored; it returns false in that case.
func (tr *Tracker) RecordFirstResponse(t *domain.Ticket, now time.Time) (bool, error) {
	if t.SLA.FirstResponseAt != nil {
		tr.logger.Warn("duplicate first response ignored",
			zap.String("ticket_id", t.ID),
			zap.Time("first_response_at", *t.SLA.FirstResponseAt),
			zap.Time("duplicate_at", now))
		return false, nil
	}
	state := t.SLA.CurrentState()
	if state != domain.SLAStateRunning && state != domain.SLAStatePaused {
		return false, invalidTransition(opFirstResponse, state)
	}

	next := t.SLA
	responded := now
	next.FirstResponseAt = &responded
	next.State = state

	t.SLA = next
	return true, nil
}

// Pause stops the resolution clock while the ticket waits on a vendor.
func (tr *Tracker) Pause(t *domain.Ticket, now time.Time) error {
	state := t.SLA.CurrentState()
	if state != domain.SLAStateRunning {
		return invalidTransition(opPause, state)
	}

	next := t.SLA
	paused := now
	next.WaitingVendorAt = &paused
	next.State = domain.SLAStatePaused

	t.SLA = next
	return nil
}

// Resume restarts a paused clock and adds the pause to the accumulated total.
func (tr *Tracker) Resume(t *domain.Ticket, now time.Time) error {
	state := t.SLA.CurrentState()
	if state != domain.SLAStatePaused {
		return invalidTransition(opResume, state)
	}
	next, err := closePause(t.SLA, opResume, now)
	if err != nil {
		return err
	}
	next.State = domain.SLAStateRunning

	t.SLA = next
	return nil
}

// Stop ends the SLA cycle. An open pause is closed first so its time is kept.
func (tr *Tracker) Stop(t *domain.Ticket, now time.Time) error {
	state := t.SLA.CurrentState()
	next := t.SLA
	switch state {
	case domain.SLAStateRunning:
	case domain.SLAStatePaused:
		var err error
		if next, err = closePause(next, opStop, now); err != nil {
			return err
		}
	default:
		return invalidTransition(opStop, state)
	}

	resolved := now
	next.ResolvedAt = &resolved
	next.State = domain.SLAStateStopped

	t.SLA = next
	return nil
}

// ChangePriority moves the ticket to another tier. Only deadlines that have not been
// reached yet are affected; recorded timestamps stay as they are.
func (tr *Tracker) ChangePriority(t *domain.Ticket, priority domain.TicketPriority) error {
	state := t.SLA.CurrentState()
	if state == domain.SLAStateStopped {
		return invalidTransition(opPriority, state)
	}
	priority = priority.Normalize()
	if _, err := tr.clock.Policy(priority); err != nil {
		return err
	}

	next := t.SLA
	if next.StartedAt != nil && next.FirstResponseAt == nil {
		target, err := tr.clock.FirstResponseTarget(next.StartedAt, priority)
		if err != nil {
			return err
		}
		next.FirstResponseTarget = target
	}
	next.State = state

	t.Priority = priority
	t.SLA = next
	return nil
}

// ClearFirstResponseBreach is the administrative override of the breach flag.
// It returns false when the flag was not set.
func (tr *Tracker) ClearFirstResponseBreach(t *domain.Ticket) bool {
	if !t.SLA.FirstResponseBreached {
		return false
	}
	t.SLA.FirstResponseBreached = false
	return true
}

func closePause(state domain.TicketSLA, op string, now time.Time) (domain.TicketSLA, error) {
	if state.WaitingVendorAt == nil {
		return state, invalidTransition(op, state.DerivedState())
	}
	pausedAt := *state.WaitingVendorAt
	elapsed := now.Sub(pausedAt)
	if elapsed < 0 {
		return state, clockSkew(op, pausedAt, now)
	}
	state.TotalWaitingVendor += elapsed
	state.WaitingVendorAt = nil
	return state, nil
}
