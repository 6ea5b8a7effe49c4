package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
)

func TestBreachService_EmitsTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.clock.Set(t0.Add(-2 * time.Hour))
	critical := h.create(t, domain.TicketPriorityCritical)

	h.clock.Set(t0)
	high := h.create(t, domain.TicketPriorityHigh)
	low := h.create(t, domain.TicketPriorityLow)
	h.clock.Set(t0.Add(time.Minute))
	_, _, err := h.service.RecordFirstResponse(ctx, staff(), low.ID)
	require.NoError(t, err)
	h.recorder.reset()

	summary, err := h.breaches.EvaluateOpenTickets(ctx, t0.Add(200*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Evaluated: 3, Signals: 4}, summary)

	responseBreaches := h.recorder.ofType(events.EventSLAResponseBreached)
	require.Len(t, responseBreaches, 1)
	assert.Equal(t, critical.ID, responseBreaches[0].TicketID)
	require.Len(t, h.recorder.ofType(events.EventSLAResolutionBreached), 1)
	atRisk := h.recorder.ofType(events.EventSLAResponseAtRisk)
	require.Len(t, atRisk, 1)
	assert.Equal(t, high.ID, atRisk[0].TicketID)

	reminders := h.recorder.ofType(events.EventSLAReminder)
	require.Len(t, reminders, 1)
	payload, ok := reminders[0].Payload.(events.SLARiskPayload)
	require.True(t, ok)
	assert.Equal(t, "response", payload.Target)
	assert.Equal(t, int64(60), payload.LeadMinutes)
	assert.Equal(t, domain.SubjectTypeSystem, reminders[0].Actor.Type)

	stored, err := h.tickets.GetByID(ctx, critical.ID)
	require.NoError(t, err)
	assert.True(t, stored.SLA.FirstResponseBreached)

	summary, err = h.breaches.EvaluateOpenTickets(ctx, t0.Add(200*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Signals, "unchanged classifications emit nothing")

	summary, err = h.breaches.EvaluateOpenTickets(ctx, t0.Add(235*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Signals)
	reminders = h.recorder.ofType(events.EventSLAReminder)
	require.Len(t, reminders, 2)
	assert.Equal(t, int64(7), reminders[1].Payload.(events.SLARiskPayload).LeadMinutes)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(3), snap.EvaluationRuns)
	assert.Equal(t, int64(2), snap.Signals["sla_reminder"])
}

func TestBreachService_SkipsStoppedAndFailingTickets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.store.Upsert("URGENT", 30, 10)
	require.NoError(t, err)
	urgent := h.create(t, "URGENT")
	require.NoError(t, h.store.Remove("URGENT"))

	resolved := h.create(t, domain.TicketPriorityHigh)
	_, err = h.service.ChangeStatus(ctx, staff(), resolved.ID, domain.TicketStatusInProgress, "")
	require.NoError(t, err)
	_, err = h.service.ChangeStatus(ctx, staff(), resolved.ID, domain.TicketStatusResolved, "")
	require.NoError(t, err)

	h.create(t, domain.TicketPriorityMedium)

	summary, err := h.breaches.EvaluateOpenTickets(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, h.recorder.ofType(events.EventSLAResponseBreached))

	stored, err := h.tickets.GetByID(ctx, urgent.ID)
	require.NoError(t, err)
	assert.False(t, stored.SLA.FirstResponseBreached)
	assert.Equal(t, int64(1), h.metrics.Snapshot().EvaluationErrors)
}

func TestBreachService_StopsOnCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.create(t, domain.TicketPriorityHigh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.breaches.EvaluateOpenTickets(ctx, t0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreachService_PausedTicketRemindsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ticket := h.create(t, domain.TicketPriorityCritical)

	h.clock.Set(t0.Add(time.Minute))
	_, _, err := h.service.RecordFirstResponse(ctx, staff(), ticket.ID)
	require.NoError(t, err)
	_, err = h.service.ChangeStatus(ctx, staff(), ticket.ID, domain.TicketStatusInProgress, "")
	require.NoError(t, err)
	h.clock.Set(t0.Add(115 * time.Minute))
	_, err = h.service.ChangeStatus(ctx, staff(), ticket.ID, domain.TicketStatusWaitingVendor, "")
	require.NoError(t, err)
	h.recorder.reset()

	for minute := 116; minute <= 120; minute++ {
		_, err := h.breaches.EvaluateOpenTickets(ctx, t0.Add(time.Duration(minute)*time.Minute))
		require.NoError(t, err)
	}

	reminders := h.recorder.ofType(events.EventSLAReminder)
	require.Len(t, reminders, 1)
	payload := reminders[0].Payload.(events.SLARiskPayload)
	assert.Equal(t, "resolution", payload.Target)
	assert.Equal(t, int64(7), payload.LeadMinutes)
}
