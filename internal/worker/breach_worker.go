package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/service"
)

// Evaluator is the slice of the breach service the worker drives.
type Evaluator interface {
	EvaluateOpenTickets(ctx context.Context, now time.Time) (service.RunSummary, error)
}

// BreachWorker runs periodic SLA evaluations on a cron schedule. Overlapping runs are
// skipped, not queued.
type BreachWorker struct {
	evaluator Evaluator
	logger    *zap.Logger
	schedule  string
	timeout   time.Duration
	now       func() time.Time

	cron    *cron.Cron
	running sync.Mutex
}

// NewBreachWorker builds a worker. The schedule uses robfig/cron syntax, for example
// "@every 1m" or "*/5 * * * *".
func NewBreachWorker(evaluator Evaluator, schedule string, timeout time.Duration, logger *zap.Logger) *BreachWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &BreachWorker{
		evaluator: evaluator,
		logger:    logger,
		schedule:  schedule,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the job. It fails on an invalid schedule.
func (w *BreachWorker) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("sla evaluation run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sla evaluation %q: %w", w.schedule, err)
	}
	w.cron = c
	c.Start()
	w.logger.Info("sla breach worker started", zap.String("schedule", w.schedule))
	return nil
}

// Stop waits for a running evaluation to finish or ctx to expire.
func (w *BreachWorker) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("sla breach worker stopped")
	case <-ctx.Done():
		w.logger.Warn("sla breach worker stop timed out")
	}
}

// RunOnce evaluates all open tickets now. It returns a zero summary without running
// when another evaluation is still in progress.
func (w *BreachWorker) RunOnce(ctx context.Context) (service.RunSummary, error) {
	if !w.running.TryLock() {
		w.logger.Warn("previous sla evaluation still running; skipping")
		return service.RunSummary{}, nil
	}
	defer w.running.Unlock()

	start := time.Now()
	summary, err := w.evaluator.EvaluateOpenTickets(ctx, w.now())
	if err != nil {
		return summary, err
	}
	w.logger.Info("sla evaluation completed",
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("failed", summary.Failed),
		zap.Int("signals", summary.Signals),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}
