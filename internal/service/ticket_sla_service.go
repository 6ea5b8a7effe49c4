package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/config"
	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/sla"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

// TicketSLAService drives ticket status changes and keeps the SLA clock in step.
type TicketSLAService struct {
	tickets         repository.TicketRepository
	history         repository.TicketHistoryRepository
	clock           *sla.Clock
	tracker         *sla.Tracker
	evaluator       *sla.Evaluator
	classifications repository.ClassificationStore
	dispatcher      events.Dispatcher
	logger          *zap.Logger
	startOn         string
	retries         int
	now             func() time.Time
}

// TicketSLADependencies bundles collaborators for the ticket SLA service.
type TicketSLADependencies struct {
	TicketRepo      repository.TicketRepository
	HistoryRepo     repository.TicketHistoryRepository
	Clock           *sla.Clock
	Tracker         *sla.Tracker
	Evaluator       *sla.Evaluator
	Classifications repository.ClassificationStore
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	// StartOn is config.SLAStartOnCreated or config.SLAStartOnInProgress.
	StartOn       string
	UpdateRetries int
	Now           func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Tags        []string
	AssigneeID  *string
}

// SLAView is a ticket with its classification at EvaluatedAt.
type SLAView struct {
	Ticket      *domain.Ticket
	Result      sla.Result
	EvaluatedAt time.Time
}

// ticketMutation changes a freshly loaded ticket and reports whether anything changed.
type ticketMutation func(t *domain.Ticket, now time.Time) (bool, error)

// NewTicketSLAService constructs the service.
func NewTicketSLAService(deps TicketSLADependencies) *TicketSLAService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := deps.UpdateRetries
	if retries < 1 {
		retries = 1
	}
	clockNow := deps.Now
	if clockNow == nil {
		clockNow = func() time.Time { return time.Now().UTC() }
	}
	// Waiting-vendor totals persist in whole seconds.
	now := func() time.Time { return clockNow().Truncate(time.Second) }
	startOn := deps.StartOn
	if startOn == "" {
		startOn = config.SLAStartOnCreated
	}
	return &TicketSLAService{
		tickets:         deps.TicketRepo,
		history:         deps.HistoryRepo,
		clock:           deps.Clock,
		tracker:         deps.Tracker,
		evaluator:       deps.Evaluator,
		classifications: deps.Classifications,
		dispatcher:      deps.Dispatcher,
		logger:          logger,
		startOn:         startOn,
		retries:         retries,
		now:             now,
	}
}

// CreateTicket opens a ticket. The SLA clock starts immediately unless the service is
// configured to start it on the first IN_PROGRESS transition.
func (s *TicketSLAService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	priority := input.Priority.Normalize()
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if _, err := s.clock.Policy(priority); err != nil {
		return nil, unknownPriority(priority, err)
	}

	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		ExternalKey: generateTicketKey(),
		AssigneeID:  input.AssigneeID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Tags:        input.Tags,
		SLA:         domain.TicketSLA{State: domain.SLAStateNotStarted},
	}
	if actor.ID != nil {
		ticket.RequesterID = *actor.ID
	}

	if s.startOn == config.SLAStartOnCreated {
		if err := s.tracker.Start(ticket, s.now()); err != nil {
			return nil, err
		}
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketCreatedPayload{
			ExternalKey: ticket.ExternalKey,
			Priority:    ticket.Priority,
			Title:       ticket.Title,
		},
	})
	if ticket.SLA.State != domain.SLAStateNotStarted {
		s.recordSLATransition(ctx, actor, domain.TicketSLA{State: domain.SLAStateNotStarted}, ticket)
	}
	return ticket, nil
}

// ChangeStatus moves the ticket through its lifecycle and applies the matching clock
// transition: IN_PROGRESS starts or resumes, WAITING_VENDOR pauses, terminal statuses stop.
func (s *TicketSLAService) ChangeStatus(ctx context.Context, actor domain.Actor, ticketID string, status domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if _, known := allowedTransitions[status]; !known {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": string(status)})
	}

	ticket, before, _, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, now time.Time) (bool, error) {
		if !isValidTransition(t.Status, status) {
			return false, apperrors.NewInvalidStateTransition("invalid status transition", map[string]any{
				"from": string(t.Status),
				"to":   string(status),
			}, nil)
		}
		if err := s.applyClockTransition(t, status, now); err != nil {
			return false, err
		}
		t.Status = status
		if status == domain.TicketStatusClosed || status == domain.TicketStatusCancelled {
			closed := now
			t.ClosedAt = &closed
		} else {
			t.ClosedAt = nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": before.Status},
		map[string]any{"status": ticket.Status, "comment": comment},
	)
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: before.Status,
			NewStatus: ticket.Status,
			Comment:   comment,
		},
	})
	if before.SLA.CurrentState() != ticket.SLA.CurrentState() {
		s.recordSLATransition(ctx, actor, before.SLA, ticket)
	}
	return ticket, nil
}

// RecordFirstResponse stores the first agent reply. The bool is false when a response
// was already recorded.
func (s *TicketSLAService) RecordFirstResponse(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, bool, error) {
	ticket, _, recorded, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, now time.Time) (bool, error) {
		return s.tracker.RecordFirstResponse(t, now)
	})
	if err != nil {
		return nil, false, err
	}
	if recorded {
		s.record(ctx, actor, ticket.ID, domain.ChangeTypeSLATransition,
			map[string]any{"first_response_at": nil},
			map[string]any{
				"first_response_at":     ticket.SLA.FirstResponseAt,
				"first_response_target": ticket.SLA.FirstResponseTarget,
			},
		)
	}
	return ticket, recorded, nil
}

// ChangePriority moves the ticket to another tier. Unreached deadlines follow the new
// tier; recorded milestones stay.
func (s *TicketSLAService) ChangePriority(ctx context.Context, actor domain.Actor, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	priority = priority.Normalize()
	ticket, before, changed, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, _ time.Time) (bool, error) {
		if t.Priority == priority {
			return false, nil
		}
		if err := s.tracker.ChangePriority(t, priority); err != nil {
			if errors.Is(err, sla.ErrPolicyNotFound) {
				return false, unknownPriority(priority, err)
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return ticket, nil
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypePriority,
		map[string]any{"priority": before.Priority},
		map[string]any{"priority": ticket.Priority},
	)
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:     events.EventTicketPriorityChanged,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketPriorityChangedPayload{
			OldPriority: before.Priority,
			NewPriority: ticket.Priority,
		},
	})
	return ticket, nil
}

// GetSLA classifies the ticket now. A missed response target found here flips the
// stored flag and publishes the breach, exactly like the scheduled worker.
func (s *TicketSLAService) GetSLA(ctx context.Context, ticketID string) (*SLAView, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.evaluator.Evaluate(ticket, now)
	if err != nil {
		return nil, err
	}

	if res.FirstResponseBreachFlagged {
		flipped, err := s.tickets.MarkFirstResponseBreached(ctx, ticket.ID)
		if err != nil {
			s.logger.Warn("persist first response breach failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			ticket.SLA.FirstResponseBreached = false
		}
		res.FirstResponseBreachFlagged = flipped
		if flipped {
			publishEvent(ctx, s.dispatcher, s.logger, signalEvent(ticket, sla.Signal{
				Kind:           sla.SignalResponseBreached,
				TicketID:       ticket.ID,
				Classification: res.Classification,
				Deadline:       res.ResponseTarget,
			}, now))
		}
	}
	return &SLAView{Ticket: ticket, Result: res, EvaluatedAt: now}, nil
}

// ClearFirstResponseBreach is the administrative override of the breach flag. It is
// refused while the response is still missing, since the next evaluation would set
// the flag again.
func (s *TicketSLAService) ClearFirstResponseBreach(ctx context.Context, actor domain.Actor, ticketID, reason string) (*domain.Ticket, error) {
	ticket, _, cleared, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, _ time.Time) (bool, error) {
		if t.SLA.FirstResponseBreached && t.SLA.FirstResponseAt == nil {
			return false, apperrors.NewConflict("first response not recorded yet", map[string]any{"ticket_id": t.ID})
		}
		return s.tracker.ClearFirstResponseBreach(t), nil
	})
	if err != nil {
		return nil, err
	}
	if !cleared {
		return ticket, nil
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypeSLAOverride,
		map[string]any{"first_response_breached": true},
		map[string]any{"first_response_breached": false, "reason": reason},
	)
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:     events.EventSLABreachCleared,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  map[string]any{"reason": reason},
	})
	return ticket, nil
}

// ListHistory returns the audit trail, SLA transitions included.
func (s *TicketSLAService) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.load(ctx, ticketID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return entries, nil
}

// ListTickets searches tickets for staff queues, filterable by SLA state.
func (s *TicketSLAService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	return tickets, nil
}

// applyClockTransition maps a status change onto the tracker. Transitions the status
// table allows but the clock rejects are mapping bugs and logged as such.
func (s *TicketSLAService) applyClockTransition(t *domain.Ticket, next domain.TicketStatus, now time.Time) error {
	state := t.SLA.CurrentState()
	var err error
	switch {
	case next == domain.TicketStatusInProgress && state == domain.SLAStateNotStarted:
		err = s.tracker.Start(t, now)
	case next == domain.TicketStatusInProgress && state == domain.SLAStatePaused:
		err = s.tracker.Resume(t, now)
	case next == domain.TicketStatusWaitingVendor && state == domain.SLAStateRunning:
		err = s.tracker.Pause(t, now)
	case next.Terminal() && (state == domain.SLAStateRunning || state == domain.SLAStatePaused):
		err = s.tracker.Stop(t, now)
	}
	if err != nil && errors.Is(err, sla.ErrInvalidStateTransition) && !errors.Is(err, sla.ErrClockSkew) {
		s.logger.Error("status change mapped to an invalid sla transition",
			zap.String("ticket_id", t.ID),
			zap.String("status", string(t.Status)),
			zap.String("next_status", string(next)),
			zap.String("sla_state", string(state)),
			zap.Error(err),
		)
	}
	return err
}

// mutate loads the ticket, applies fn and writes it back, retrying on version conflicts.
// It returns the stored ticket, the ticket as loaded, and whether anything changed.
func (s *TicketSLAService) mutate(ctx context.Context, ticketID string, fn ticketMutation) (*domain.Ticket, domain.Ticket, bool, error) {
	for attempt := 1; ; attempt++ {
		ticket, err := s.load(ctx, ticketID)
		if err != nil {
			return nil, domain.Ticket{}, false, err
		}
		before := *ticket

		changed, err := fn(ticket, s.now())
		if err != nil {
			return nil, before, false, err
		}
		if !changed {
			return ticket, before, false, nil
		}

		err = s.tickets.Update(ctx, ticket)
		if err == nil {
			return ticket, before, true, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, before, false, repositoryError(err, ticketID)
		}
		if attempt >= s.retries {
			return nil, before, false, apperrors.NewConflict("ticket was modified concurrently", map[string]any{
				"ticket_id": ticketID,
				"attempts":  attempt,
			})
		}
		s.logger.Debug("retrying ticket update after version conflict",
			zap.String("ticket_id", ticketID),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *TicketSLAService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, repositoryError(err, ticketID)
	}
	return ticket, nil
}

func (s *TicketSLAService) recordSLATransition(ctx context.Context, actor domain.Actor, before domain.TicketSLA, ticket *domain.Ticket) {
	from, to := before.CurrentState(), ticket.SLA.CurrentState()
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeSLATransition,
		map[string]any{
			"state":             from,
			"waiting_vendor_at": before.WaitingVendorAt,
		},
		map[string]any{
			"state":                        to,
			"waiting_vendor_at":            ticket.SLA.WaitingVendorAt,
			"total_waiting_vendor_minutes": ticket.SLA.TotalWaitingVendorMinutes(),
		},
	)
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:     events.EventSLATransition,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.SLATransitionPayload{
			From:               from,
			To:                 to,
			TotalWaitingVendor: ticket.SLA.TotalWaitingVendorMinutes(),
		},
	})
	if to == domain.SLAStateStopped && s.classifications != nil {
		if err := s.classifications.Forget(ctx, ticket.ID); err != nil {
			s.logger.Warn("forget classification failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
}

// record appends a history entry. The ticket write already succeeded, so a failure is
// logged rather than returned.
func (s *TicketSLAService) record(ctx context.Context, actor domain.Actor, ticketID string, changeType domain.TicketChangeType, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: actor.Type,
		ChangedByID:   actor.ID,
		ChangeType:    changeType,
		OldValue:      oldValue,
		NewValue:      newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record ticket history failed",
			zap.String("ticket_id", ticketID),
			zap.String("change_type", string(changeType)),
			zap.Error(err),
		)
	}
}

func repositoryError(err error, ticketID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundWrap("ticket", map[string]any{"ticket_id": ticketID}, err)
	}
	return apperrors.NewInternalError(err)
}

func unknownPriority(priority domain.TicketPriority, err error) error {
	if errors.Is(err, sla.ErrPolicyNotFound) {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": string(priority)})
	}
	return err
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:          {domain.TicketStatusInProgress, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress:    {domain.TicketStatusWaitingVendor, domain.TicketStatusPendingUser, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusWaitingVendor: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusPendingUser:   {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusResolved:      {domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusClosed:        {},
	domain.TicketStatusCancelled:     {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
