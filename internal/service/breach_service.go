package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/observability"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/sla"
)

const defaultBatchSize = 200

// BreachService evaluates open tickets and turns classification changes into events.
type BreachService struct {
	tickets         repository.TicketRepository
	evaluator       *sla.Evaluator
	classifications repository.ClassificationStore
	dispatcher      events.Dispatcher
	metrics         *observability.Metrics
	logger          *zap.Logger
	batchSize       int
}

// BreachDependencies bundles collaborators for the breach service.
type BreachDependencies struct {
	TicketRepo      repository.TicketRepository
	Evaluator       *sla.Evaluator
	Classifications repository.ClassificationStore
	Dispatcher      events.Dispatcher
	Metrics         *observability.Metrics
	Logger          *zap.Logger
	BatchSize       int
}

// RunSummary reports one evaluation pass.
type RunSummary struct {
	Evaluated int
	Failed    int
	Signals   int
}

// NewBreachService constructs the service.
func NewBreachService(deps BreachDependencies) *BreachService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &BreachService{
		tickets:         deps.TicketRepo,
		evaluator:       deps.Evaluator,
		classifications: deps.Classifications,
		dispatcher:      deps.Dispatcher,
		metrics:         deps.Metrics,
		logger:          logger,
		batchSize:       batch,
	}
}

// EvaluateOpenTickets pages through RUNNING and PAUSED tickets and evaluates them at now.
// A failing ticket is counted and skipped.
func (s *BreachService) EvaluateOpenTickets(ctx context.Context, now time.Time) (RunSummary, error) {
	var summary RunSummary
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		page, err := s.tickets.ListForEvaluation(ctx, afterID, s.batchSize)
		if err != nil {
			return summary, err
		}
		if len(page) == 0 {
			break
		}

		for ev := range s.evaluator.EvaluateBatch(page, now) {
			if ev.Err != nil {
				summary.Failed++
				s.logger.Warn("sla evaluation failed", zap.String("ticket_id", ev.Ticket.ID), zap.Error(ev.Err))
				continue
			}
			summary.Evaluated++
			summary.Signals += s.apply(ctx, ev.Ticket, ev.Result, now)
		}

		afterID = page[len(page)-1].ID
		if len(page) < s.batchSize {
			break
		}
	}
	s.metrics.RecordEvaluationRun(now, summary.Failed)
	return summary, nil
}

// apply persists the breach flag flip, swaps the stored classification and publishes
// the resulting signals. It returns the number of published events.
func (s *BreachService) apply(ctx context.Context, t *domain.Ticket, res sla.Result, now time.Time) int {
	s.metrics.RecordClassification(string(res.Classification))
	if res.FirstResponseBreachFlagged {
		res.FirstResponseBreachFlagged = s.persistBreachFlag(ctx, t.ID)
	}

	previous, err := s.classifications.Swap(ctx, t.ID, string(res.Classification))
	if err != nil {
		s.logger.Warn("classification swap failed", zap.String("ticket_id", t.ID), zap.Error(err))
		previous = string(res.Classification)
	}

	published := 0
	for _, sig := range sla.Detect(sla.Classification(previous), res) {
		if sig.Reminder != nil {
			claimed, err := s.classifications.ClaimReminder(ctx, sig.Reminder.Key(t.ID))
			if err != nil {
				s.logger.Warn("reminder claim failed", zap.String("ticket_id", t.ID), zap.Error(err))
				continue
			}
			if !claimed {
				continue
			}
		}
		publishEvent(ctx, s.dispatcher, s.logger, signalEvent(t, sig, now))
		s.metrics.RecordSignal(string(sig.Kind))
		published++
	}
	return published
}

// persistBreachFlag reports whether this call flipped the stored flag. Only the caller
// that flips it publishes the response breach.
func (s *BreachService) persistBreachFlag(ctx context.Context, ticketID string) bool {
	flipped, err := s.tickets.MarkFirstResponseBreached(ctx, ticketID)
	if err != nil {
		s.logger.Warn("persist first response breach failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return false
	}
	return flipped
}
