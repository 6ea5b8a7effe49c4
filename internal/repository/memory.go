package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/idesk/helpdesk/internal/domain"
)

// MemoryTicketRepository keeps tickets in process. It backs the service when no
// database is configured and backs the service tests.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	now     func() time.Time
}

// NewMemoryTicketRepository builds an empty repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]domain.Ticket), now: time.Now}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.SLA.State == "" {
		ticket.SLA.State = ticket.SLA.DerivedState()
	}
	now := r.now().UTC()
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r *MemoryTicketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != ticket.Version {
		return ErrVersionConflict
	}
	ticket.Version++
	ticket.UpdatedAt = r.now().UTC()
	r.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := cloneTicket(stored)
	return &t, nil
}

func (r *MemoryTicketRepository) ListWithFilter(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	var matched []domain.Ticket
	for _, t := range r.tickets {
		if matchesFilter(t, filter) {
			matched = append(matched, cloneTicket(t))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (r *MemoryTicketRepository) ListForEvaluation(_ context.Context, afterID string, limit int) ([]domain.Ticket, error) {
	r.mu.RLock()
	var page []domain.Ticket
	for id, t := range r.tickets {
		state := t.SLA.CurrentState()
		if id > afterID && (state == domain.SLAStateRunning || state == domain.SLAStatePaused) {
			page = append(page, cloneTicket(t))
		}
	}
	r.mu.RUnlock()

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (r *MemoryTicketRepository) MarkFirstResponseBreached(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return false, ErrNotFound
	}
	if stored.SLA.FirstResponseBreached {
		return false, nil
	}
	stored.SLA.FirstResponseBreached = true
	stored.Version++
	stored.UpdatedAt = r.now().UTC()
	r.tickets[id] = stored
	return true, nil
}

func matchesFilter(t domain.Ticket, f TicketFilter) bool {
	if f.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *f.AssigneeID) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.SLAStates) > 0 && !contains(f.SLAStates, t.SLA.CurrentState()) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" && !strings.Contains(strings.ToLower(t.Title), term) && !strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	}
	return t
}

// MemoryHistoryRepository keeps audit entries in process.
type MemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.TicketHistory
}

// NewMemoryHistoryRepository builds an empty repository.
func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{entries: make(map[string][]domain.TicketHistory)}
}

func (r *MemoryHistoryRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}
	r.entries[history.TicketID] = append(r.entries[history.TicketID], *history)
	return nil
}

func (r *MemoryHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TicketHistory(nil), r.entries[ticketID]...), nil
}

// MemorySLAPolicyRepository keeps policies in process.
type MemorySLAPolicyRepository struct {
	mu       sync.RWMutex
	policies map[domain.TicketPriority]domain.SLAPolicy
}

// NewMemorySLAPolicyRepository builds an empty repository.
func NewMemorySLAPolicyRepository() *MemorySLAPolicyRepository {
	return &MemorySLAPolicyRepository{policies: make(map[domain.TicketPriority]domain.SLAPolicy)}
}

func (r *MemorySLAPolicyRepository) GetAll(_ context.Context) ([]domain.SLAPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SLAPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (r *MemorySLAPolicyRepository) Upsert(_ context.Context, policy *domain.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.policies[policy.Priority]; ok {
		policy.CreatedAt = existing.CreatedAt
	} else {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	r.policies[policy.Priority] = *policy
	return nil
}

func (r *MemorySLAPolicyRepository) ReplaceAll(_ context.Context, policies []domain.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	next := make(map[domain.TicketPriority]domain.SLAPolicy, len(policies))
	for i := range policies {
		policies[i].CreatedAt = now
		policies[i].UpdatedAt = now
		next[policies[i].Priority] = policies[i]
	}
	r.policies = next
	return nil
}

func (r *MemorySLAPolicyRepository) Delete(_ context.Context, priority domain.TicketPriority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[priority]; !ok {
		return ErrNotFound
	}
	delete(r.policies, priority)
	return nil
}
