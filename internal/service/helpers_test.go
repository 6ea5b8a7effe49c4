package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/idesk/helpdesk/internal/config"
	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/observability"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/sla"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	clock           *fakeClock
	store           *sla.PolicyStore
	tickets         *repository.MemoryTicketRepository
	history         *repository.MemoryHistoryRepository
	classifications *repository.MemoryClassificationStore
	recorder        *eventRecorder
	metrics         *observability.Metrics
	service         *TicketSLAService
	breaches        *BreachService
}

type harnessOption func(*TicketSLADependencies)

func withStartOn(mode string) harnessOption {
	return func(d *TicketSLADependencies) { d.StartOn = mode }
}

func withTicketRepo(repo repository.TicketRepository) harnessOption {
	return func(d *TicketSLADependencies) { d.TicketRepo = repo }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		clock:           &fakeClock{now: t0},
		store:           sla.NewPolicyStore(),
		tickets:         repository.NewMemoryTicketRepository(),
		history:         repository.NewMemoryHistoryRepository(),
		classifications: repository.NewMemoryClassificationStore(0),
		recorder:        &eventRecorder{},
		metrics:         observability.NewMetrics(),
	}
	h.store.ResetToDefaults()

	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketPriorityChanged,
		events.EventSLATransition,
		events.EventSLABreachCleared,
	} {
		dispatcher.Subscribe(eventType, h.recorder.handle)
	}
	for _, eventType := range events.SLAEventTypes() {
		dispatcher.Subscribe(eventType, h.recorder.handle)
	}

	clock := sla.NewClock(h.store)
	evaluator, err := sla.NewEvaluator(clock, sla.DefaultThresholds())
	require.NoError(t, err)

	deps := TicketSLADependencies{
		TicketRepo:      h.tickets,
		HistoryRepo:     h.history,
		Clock:           clock,
		Tracker:         sla.NewTracker(clock, nil),
		Evaluator:       evaluator,
		Classifications: h.classifications,
		Dispatcher:      dispatcher,
		StartOn:         config.SLAStartOnCreated,
		UpdateRetries:   3,
		Now:             h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.service = NewTicketSLAService(deps)
	h.breaches = NewBreachService(BreachDependencies{
		TicketRepo:      deps.TicketRepo,
		Evaluator:       evaluator,
		Classifications: h.classifications,
		Dispatcher:      dispatcher,
		Metrics:         h.metrics,
		BatchSize:       2,
	})
	return h
}

func staff() domain.Actor {
	id := "agent-7"
	return domain.Actor{Type: domain.SubjectTypeStaff, ID: &id}
}

func requester() domain.Actor {
	id := "user-42"
	return domain.Actor{Type: domain.SubjectTypeUser, ID: &id}
}

func (h *harness) create(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := h.service.CreateTicket(context.Background(), requester(), TicketCreateInput{
		Title:    "VPN drops every hour",
		Priority: priority,
	})
	require.NoError(t, err)
	return ticket
}

// conflictingTicketRepo fails the first `failures` updates with a version conflict.
type conflictingTicketRepo struct {
	*repository.MemoryTicketRepository
	mu       sync.Mutex
	failures int
	updates  int
}

func (r *conflictingTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	r.updates++
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return repository.ErrVersionConflict
	}
	r.mu.Unlock()
	return r.MemoryTicketRepository.Update(ctx, ticket)
}
