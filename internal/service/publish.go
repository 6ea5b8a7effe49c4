package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/sla"
)

var signalEventTypes = map[sla.SignalKind]events.EventType{
	sla.SignalResponseBreached:   events.EventSLAResponseBreached,
	sla.SignalResolutionBreached: events.EventSLAResolutionBreached,
	sla.SignalResponseAtRisk:     events.EventSLAResponseAtRisk,
	sla.SignalResolutionAtRisk:   events.EventSLAResolutionAtRisk,
	sla.SignalReminder:           events.EventSLAReminder,
}

// publishEvent fills ID and timestamp and publishes. Handler failures are logged by
// the dispatcher and never fail the caller.
func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Debug("event published with handler errors", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func signalEvent(t *domain.Ticket, sig sla.Signal, now time.Time) events.Event {
	payload := events.SLARiskPayload{
		ExternalKey:    t.ExternalKey,
		Priority:       t.Priority,
		Classification: string(sig.Classification),
		Deadline:       sig.Deadline,
		AssigneeID:     t.AssigneeID,
	}
	switch sig.Kind {
	case sla.SignalResponseBreached, sla.SignalResponseAtRisk:
		payload.Target = string(sla.TargetResponse)
	case sla.SignalResolutionBreached, sla.SignalResolutionAtRisk:
		payload.Target = string(sla.TargetResolution)
	}
	if sig.Reminder != nil {
		payload.Target = string(sig.Reminder.Target)
		payload.LeadMinutes = int64(sig.Reminder.Lead / time.Minute)
	}
	return events.Event{
		Type:      signalEventTypes[sig.Kind],
		TicketID:  t.ID,
		Actor:     events.ActorFrom(domain.SystemActor()),
		Timestamp: now,
		Payload:   payload,
	}
}
