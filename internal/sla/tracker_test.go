package sla

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(NewClock(seededStore(t)), zap.NewNop())
}

func newTicket(priority domain.TicketPriority) *domain.Ticket {
	return &domain.Ticket{
		ID:        "ticket-1",
		Priority:  priority,
		Status:    domain.TicketStatusOpen,
		SLA:       domain.TicketSLA{State: domain.SLAStateNotStarted},
		CreatedAt: t0,
	}
}

func startedTicket(t *testing.T, tr *Tracker, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket := newTicket(priority)
	require.NoError(t, tr.Start(ticket, t0))
	return ticket
}

func TestTracker_Start(t *testing.T) {
	tr := newTracker(t)
	ticket := newTicket(domain.TicketPriorityHigh)

	require.NoError(t, tr.Start(ticket, t0))
	assert.Equal(t, domain.SLAStateRunning, ticket.SLA.State)
	assert.Equal(t, t0, *ticket.SLA.StartedAt)
	assert.Equal(t, t0.Add(240*time.Minute), *ticket.SLA.FirstResponseTarget)

	err := tr.Start(ticket, t0.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.Equal(t, t0, *ticket.SLA.StartedAt)
}

func TestTracker_StartUnknownPriorityLeavesTicketUntouched(t *testing.T) {
	tr := newTracker(t)
	ticket := newTicket("MISSING")
	before := *ticket

	err := tr.Start(ticket, t0)
	require.Error(t, err)
	assert.Equal(t, before, *ticket)
}

func TestTracker_PauseResumeAccounting(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityHigh)

	require.NoError(t, tr.Pause(ticket, t0.Add(60*time.Minute)))
	assert.Equal(t, domain.SLAStatePaused, ticket.SLA.State)
	require.NotNil(t, ticket.SLA.WaitingVendorAt)

	require.NoError(t, tr.Resume(ticket, t0.Add(300*time.Minute)))
	assert.Equal(t, domain.SLAStateRunning, ticket.SLA.State)
	assert.Nil(t, ticket.SLA.WaitingVendorAt)
	assert.Equal(t, int64(240), ticket.SLA.TotalWaitingVendorMinutes())

	deadline, err := tr.clock.ResolutionDeadline(ticket.SLA, ticket.Priority, t0.Add(301*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(720*time.Minute), *deadline)
}

func TestTracker_PauseAccountingIsMonotonic(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityMedium)

	intervals := []struct{ pause, resume time.Duration }{
		{10 * time.Minute, 25 * time.Minute},
		{40 * time.Minute, 40 * time.Minute},
		{50 * time.Minute, 110*time.Minute + 30*time.Second},
	}
	var want time.Duration
	for _, iv := range intervals {
		before := ticket.SLA.TotalWaitingVendor
		require.NoError(t, tr.Pause(ticket, t0.Add(iv.pause)))
		require.NoError(t, tr.Resume(ticket, t0.Add(iv.resume)))
		assert.Equal(t, iv.resume-iv.pause, ticket.SLA.TotalWaitingVendor-before)
		want += iv.resume - iv.pause
	}
	assert.Equal(t, want, ticket.SLA.TotalWaitingVendor)
}

func TestTracker_PauseResumeSameInstant(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityLow)
	at := t0.Add(time.Hour)

	require.NoError(t, tr.Pause(ticket, at))
	require.NoError(t, tr.Resume(ticket, at))
	assert.Equal(t, time.Duration(0), ticket.SLA.TotalWaitingVendor)
	assert.Equal(t, domain.SLAStateRunning, ticket.SLA.State)
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tr := newTracker(t)

	tests := []struct {
		name  string
		setup func(t *testing.T) *domain.Ticket
		apply func(ticket *domain.Ticket) error
	}{
		{
			name:  "resume while running",
			setup: func(t *testing.T) *domain.Ticket { return startedTicket(t, tr, domain.TicketPriorityHigh) },
			apply: func(ticket *domain.Ticket) error { return tr.Resume(ticket, t0.Add(time.Hour)) },
		},
		{
			name: "pause twice",
			setup: func(t *testing.T) *domain.Ticket {
				ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
				require.NoError(t, tr.Pause(ticket, t0.Add(time.Minute)))
				return ticket
			},
			apply: func(ticket *domain.Ticket) error { return tr.Pause(ticket, t0.Add(2*time.Minute)) },
		},
		{
			name: "pause stopped",
			setup: func(t *testing.T) *domain.Ticket {
				ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
				require.NoError(t, tr.Stop(ticket, t0.Add(time.Hour)))
				return ticket
			},
			apply: func(ticket *domain.Ticket) error { return tr.Pause(ticket, t0.Add(2*time.Hour)) },
		},
		{
			name:  "stop before start",
			setup: func(t *testing.T) *domain.Ticket { return newTicket(domain.TicketPriorityHigh) },
			apply: func(ticket *domain.Ticket) error { return tr.Stop(ticket, t0) },
		},
		{
			name: "change priority after stop",
			setup: func(t *testing.T) *domain.Ticket {
				ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
				require.NoError(t, tr.Stop(ticket, t0.Add(time.Hour)))
				return ticket
			},
			apply: func(ticket *domain.Ticket) error { return tr.ChangePriority(ticket, domain.TicketPriorityLow) },
		},
		{
			name:  "first response before start",
			setup: func(t *testing.T) *domain.Ticket { return newTicket(domain.TicketPriorityHigh) },
			apply: func(ticket *domain.Ticket) error {
				_, err := tr.RecordFirstResponse(ticket, t0)
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ticket := tc.setup(t)
			before := *ticket

			err := tc.apply(ticket)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidStateTransition))
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStateTransition))
			assert.Equal(t, before, *ticket, "no field may change on a rejected transition")
		})
	}
}

func TestTracker_ResumeClockSkew(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
	require.NoError(t, tr.Pause(ticket, t0.Add(time.Hour)))
	before := *ticket

	err := tr.Resume(ticket, t0.Add(30*time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClockSkew))
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, before, *ticket)
}

func TestTracker_StopAbsorbsOpenPause(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
	pausedAt := t0.Add(time.Hour)
	stopAt := pausedAt.Add(95 * time.Minute)

	require.NoError(t, tr.Pause(ticket, pausedAt))
	require.NoError(t, tr.Stop(ticket, stopAt))

	assert.Equal(t, domain.SLAStateStopped, ticket.SLA.State)
	assert.Equal(t, 95*time.Minute, ticket.SLA.TotalWaitingVendor)
	assert.Nil(t, ticket.SLA.WaitingVendorAt)
	assert.Equal(t, stopAt, *ticket.SLA.ResolvedAt)
}

func TestTracker_StopWithSkewedPauseFails(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
	require.NoError(t, tr.Pause(ticket, t0.Add(time.Hour)))

	err := tr.Stop(ticket, t0.Add(time.Minute))
	assert.True(t, errors.Is(err, ErrClockSkew))
	assert.Nil(t, ticket.SLA.ResolvedAt)
	assert.Equal(t, domain.SLAStatePaused, ticket.SLA.State)
}

func TestTracker_RecordFirstResponseIsIdempotent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := NewTracker(NewClock(seededStore(t)), zap.New(core))
	ticket := newTicket(domain.TicketPriorityHigh)
	require.NoError(t, tr.Start(ticket, t0))

	first := t0.Add(10 * time.Minute)
	recorded, err := tr.RecordFirstResponse(ticket, first)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = tr.RecordFirstResponse(ticket, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, first, *ticket.SLA.FirstResponseAt)
	assert.Equal(t, 1, logs.FilterMessage("duplicate first response ignored").Len())
}

func TestTracker_RecordFirstResponseWhilePaused(t *testing.T) {
	tr := newTracker(t)
	ticket := startedTicket(t, tr, domain.TicketPriorityHigh)
	require.NoError(t, tr.Pause(ticket, t0.Add(time.Minute)))

	recorded, err := tr.RecordFirstResponse(ticket, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, domain.SLAStatePaused, ticket.SLA.State)
}

func TestTracker_ChangePriority(t *testing.T) {
	tr := newTracker(t)

	t.Run("refreshes pending response target", func(t *testing.T) {
		ticket := startedTicket(t, tr, domain.TicketPriorityLow)
		require.NoError(t, tr.ChangePriority(ticket, "critical"))
		assert.Equal(t, domain.TicketPriorityCritical, ticket.Priority)
		assert.Equal(t, t0.Add(60*time.Minute), *ticket.SLA.FirstResponseTarget)
	})

	t.Run("keeps recorded response", func(t *testing.T) {
		ticket := startedTicket(t, tr, domain.TicketPriorityLow)
		_, err := tr.RecordFirstResponse(ticket, t0.Add(time.Minute))
		require.NoError(t, err)
		target := *ticket.SLA.FirstResponseTarget

		require.NoError(t, tr.ChangePriority(ticket, domain.TicketPriorityCritical))
		assert.Equal(t, target, *ticket.SLA.FirstResponseTarget)
		assert.Equal(t, t0.Add(time.Minute), *ticket.SLA.FirstResponseAt)
	})

	t.Run("before start only changes priority", func(t *testing.T) {
		ticket := newTicket(domain.TicketPriorityLow)
		require.NoError(t, tr.ChangePriority(ticket, domain.TicketPriorityHigh))
		assert.Equal(t, domain.TicketPriorityHigh, ticket.Priority)
		assert.Nil(t, ticket.SLA.FirstResponseTarget)
	})

	t.Run("unknown priority rejected", func(t *testing.T) {
		ticket := startedTicket(t, tr, domain.TicketPriorityLow)
		err := tr.ChangePriority(ticket, "MISSING")
		assert.True(t, errors.Is(err, ErrPolicyNotFound))
		assert.Equal(t, domain.TicketPriorityLow, ticket.Priority)
	})
}

func TestTracker_DerivedStateForLegacyRows(t *testing.T) {
	tr := newTracker(t)
	ticket := newTicket(domain.TicketPriorityHigh)
	ticket.SLA = domain.TicketSLA{StartedAt: ptr(t0), WaitingVendorAt: ptr(t0.Add(time.Hour))}

	require.NoError(t, tr.Resume(ticket, t0.Add(2*time.Hour)))
	assert.Equal(t, domain.SLAStateRunning, ticket.SLA.State)
	assert.Equal(t, time.Hour, ticket.SLA.TotalWaitingVendor)
}
