package sla

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

// Classification is the SLA health of a ticket at an instant.
type Classification string

const (
	ClassificationOnTrack            Classification = "ON_TRACK"
	ClassificationResponseAtRisk     Classification = "RESPONSE_AT_RISK"
	ClassificationResponseBreached   Classification = "RESPONSE_BREACHED"
	ClassificationResolutionAtRisk   Classification = "RESOLUTION_AT_RISK"
	ClassificationResolutionBreached Classification = "RESOLUTION_BREACHED"
	ClassificationStopped            Classification = "STOPPED"
)

// Breached reports whether the classification is a breach.
func (c Classification) Breached() bool {
	return c == ClassificationResponseBreached || c == ClassificationResolutionBreached
}

// AtRisk reports whether the classification is a pre-breach warning.
func (c Classification) AtRisk() bool {
	return c == ClassificationResponseAtRisk || c == ClassificationResolutionAtRisk
}

// Target names the deadline a reminder refers to.
type Target string

const (
	TargetResponse   Target = "response"
	TargetResolution Target = "resolution"
)

// Thresholds configures the warning windows.
type Thresholds struct {
	// ResponseLead and ResolutionLead are fractions of the policy target; a ticket is
	// at risk once the remaining time drops to that share of the target.
	ResponseLead   float64
	ResolutionLead float64
	// Reminders are lead times before a deadline that each produce one reminder.
	Reminders []time.Duration
}

// DefaultThresholds returns a 20% at-risk window and D-60/D-30/D-7/D-1 minute reminders.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseLead:   0.2,
		ResolutionLead: 0.2,
		Reminders:      []time.Duration{60 * time.Minute, 30 * time.Minute, 7 * time.Minute, time.Minute},
	}
}

// Reminder is a crossed lead-time threshold. Anchor is the deadline with any open pause
// left out; it stays fixed while the clock is paused.
type Reminder struct {
	Target   Target
	Lead     time.Duration
	Deadline time.Time
	Anchor   time.Time
}

// Key identifies the reminder for de-duplication. A deadline moved by a closed pause or a
// priority change yields a new key; an open pause does not.
func (r Reminder) Key(ticketID string) string {
	anchor := r.Anchor
	if anchor.IsZero() {
		anchor = r.Deadline
	}
	return fmt.Sprintf("%s:%s:%d:%d", ticketID, r.Target, int64(r.Lead/time.Minute), anchor.Unix())
}

// Result is the outcome of classifying one ticket.
type Result struct {
	TicketID            string
	Classification      Classification
	ResponseTarget      *time.Time
	ResolutionDeadline  *time.Time
	ResponseRemaining   time.Duration
	ResolutionRemaining time.Duration
	ResponseAtRisk      bool
	ResponseBreached    bool
	ResolutionAtRisk    bool
	ResolutionBreached  bool
	Reminders           []Reminder
	// FirstResponseBreachFlagged is set by Evaluate when it flipped the ticket flag.
	FirstResponseBreachFlagged bool
}

// Evaluation pairs a ticket with its result.
type Evaluation struct {
	Ticket *domain.Ticket
	Result Result
	Err    error
}

// Evaluator classifies tickets against their deadlines.
type Evaluator struct {
	clock      *Clock
	thresholds Thresholds
}

// NewEvaluator validates the thresholds and builds an Evaluator.
func NewEvaluator(clock *Clock, thresholds Thresholds) (*Evaluator, error) {
	if thresholds.ResponseLead < 0 || thresholds.ResponseLead >= 1 ||
		thresholds.ResolutionLead < 0 || thresholds.ResolutionLead >= 1 {
		return nil, apperrors.NewValidationError("lead fraction must be in [0,1)", map[string]any{
			"response_lead":   thresholds.ResponseLead,
			"resolution_lead": thresholds.ResolutionLead,
		})
	}
	reminders := make([]time.Duration, 0, len(thresholds.Reminders))
	for _, r := range thresholds.Reminders {
		if r <= 0 {
			return nil, apperrors.NewValidationError("reminder lead must be positive", map[string]any{"reminder": r.String()})
		}
		reminders = append(reminders, r)
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i] < reminders[j] })
	thresholds.Reminders = reminders
	return &Evaluator{clock: clock, thresholds: thresholds}, nil
}

// Classify computes the classification without touching the ticket.
// Resolution breach outranks response breach, and any breach outranks at-risk.
func (e *Evaluator) Classify(t *domain.Ticket, now time.Time) (Result, error) {
	res := Result{TicketID: t.ID, Classification: ClassificationOnTrack}
	switch t.SLA.CurrentState() {
	case domain.SLAStateStopped:
		res.Classification = ClassificationStopped
		return res, nil
	case domain.SLAStateNotStarted:
		return res, nil
	}

	policy, err := e.clock.Policy(t.Priority)
	if err != nil {
		return res, err
	}

	if t.SLA.FirstResponseAt == nil {
		target, err := e.clock.FirstResponseTarget(t.SLA.StartedAt, t.Priority)
		if err != nil {
			return res, err
		}
		res.ResponseTarget = target
		res.ResponseRemaining = target.Sub(now)
		res.ResponseBreached, res.ResponseAtRisk = e.window(now, *target, policy.ResponseTime(), e.thresholds.ResponseLead)
		if !res.ResponseBreached {
			res.Reminders = e.appendReminder(res.Reminders, TargetResponse, *target, *target, res.ResponseRemaining)
		}
	}

	deadline, err := e.clock.ResolutionDeadline(t.SLA, t.Priority, now)
	if err != nil {
		return res, err
	}
	res.ResolutionDeadline = deadline
	res.ResolutionRemaining = deadline.Sub(now)
	res.ResolutionBreached, res.ResolutionAtRisk = e.window(now, *deadline, policy.ResolutionTime(), e.thresholds.ResolutionLead)
	if !res.ResolutionBreached {
		anchor := t.SLA.StartedAt.Add(policy.ResolutionTime() + t.SLA.TotalWaitingVendor)
		res.Reminders = e.appendReminder(res.Reminders, TargetResolution, *deadline, anchor, res.ResolutionRemaining)
	}

	switch {
	case res.ResolutionBreached:
		res.Classification = ClassificationResolutionBreached
	case res.ResponseBreached:
		res.Classification = ClassificationResponseBreached
	case res.ResolutionAtRisk:
		res.Classification = ClassificationResolutionAtRisk
	case res.ResponseAtRisk:
		res.Classification = ClassificationResponseAtRisk
	}
	return res, nil
}

// Evaluate classifies the ticket and sets its first-response breach flag the first time
// the response target is missed. The flag is never cleared here.
func (e *Evaluator) Evaluate(t *domain.Ticket, now time.Time) (Result, error) {
	res, err := e.Classify(t, now)
	if err != nil {
		return res, err
	}
	if res.ResponseBreached && !t.SLA.FirstResponseBreached {
		t.SLA.FirstResponseBreached = true
		res.FirstResponseBreachFlagged = true
	}
	return res, nil
}

// EvaluateBatch lazily evaluates each ticket. A failing ticket yields an Evaluation with
// Err set and the batch continues.
func (e *Evaluator) EvaluateBatch(tickets []domain.Ticket, now time.Time) iter.Seq[Evaluation] {
	return func(yield func(Evaluation) bool) {
		for i := range tickets {
			t := &tickets[i]
			res, err := e.Evaluate(t, now)
			if !yield(Evaluation{Ticket: t, Result: res, Err: err}) {
				return
			}
		}
	}
}

func (e *Evaluator) window(now, deadline time.Time, target time.Duration, fraction float64) (breached, atRisk bool) {
	if now.After(deadline) {
		return true, false
	}
	lead := time.Duration(float64(target) * fraction)
	if lead <= 0 {
		return false, false
	}
	return false, !now.Before(deadline.Add(-lead))
}

func (e *Evaluator) appendReminder(reminders []Reminder, target Target, deadline, anchor time.Time, remaining time.Duration) []Reminder {
	for _, lead := range e.thresholds.Reminders {
		if remaining <= lead {
			return append(reminders, Reminder{Target: target, Lead: lead, Deadline: deadline, Anchor: anchor})
		}
	}
	return reminders
}
