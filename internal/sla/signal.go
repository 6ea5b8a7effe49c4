package sla

import "time"

// SignalKind names an SLA notification trigger.
type SignalKind string

const (
	SignalResponseBreached   SignalKind = "sla_response_breached"
	SignalResolutionBreached SignalKind = "sla_resolution_breached"
	SignalResponseAtRisk     SignalKind = "sla_response_at_risk"
	SignalResolutionAtRisk   SignalKind = "sla_resolution_at_risk"
	SignalReminder           SignalKind = "sla_reminder"
)

// Signal is emitted when a ticket crosses into a new classification.
type Signal struct {
	Kind           SignalKind
	TicketID       string
	Classification Classification
	Deadline       *time.Time
	Reminder       *Reminder
}

// Detect compares a result with the last recorded classification and returns the
// signals to emit. The response breach is keyed on the ticket flag flip so it fires once
// even when the last classification was lost. Reminders are returned every time; the
// caller de-duplicates them by Reminder.Key.
func Detect(previous Classification, res Result) []Signal {
	var signals []Signal
	if res.FirstResponseBreachFlagged {
		signals = append(signals, Signal{
			Kind:           SignalResponseBreached,
			TicketID:       res.TicketID,
			Classification: res.Classification,
			Deadline:       res.ResponseTarget,
		})
	}
	if res.Classification != previous {
		switch res.Classification {
		case ClassificationResolutionBreached:
			signals = append(signals, Signal{
				Kind:           SignalResolutionBreached,
				TicketID:       res.TicketID,
				Classification: res.Classification,
				Deadline:       res.ResolutionDeadline,
			})
		case ClassificationResolutionAtRisk:
			signals = append(signals, Signal{
				Kind:           SignalResolutionAtRisk,
				TicketID:       res.TicketID,
				Classification: res.Classification,
				Deadline:       res.ResolutionDeadline,
			})
		case ClassificationResponseAtRisk:
			signals = append(signals, Signal{
				Kind:           SignalResponseAtRisk,
				TicketID:       res.TicketID,
				Classification: res.Classification,
				Deadline:       res.ResponseTarget,
			})
		}
	}
	for i := range res.Reminders {
		r := res.Reminders[i]
		deadline := r.Deadline
		signals = append(signals, Signal{
			Kind:           SignalReminder,
			TicketID:       res.TicketID,
			Classification: res.Classification,
			Deadline:       &deadline,
			Reminder:       &r,
		})
	}
	return signals
}
