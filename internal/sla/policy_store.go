package sla

import (
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

var priorityNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

var defaultPolicies = []domain.SLAPolicy{
	{Priority: domain.TicketPriorityLow, ResolutionTimeMinutes: 48 * 60, ResponseTimeMinutes: 24 * 60},
	{Priority: domain.TicketPriorityMedium, ResolutionTimeMinutes: 24 * 60, ResponseTimeMinutes: 8 * 60},
	{Priority: domain.TicketPriorityHigh, ResolutionTimeMinutes: 8 * 60, ResponseTimeMinutes: 4 * 60},
	{Priority: domain.TicketPriorityCritical, ResolutionTimeMinutes: 2 * 60, ResponseTimeMinutes: 60},
}

// DefaultPolicies returns the seed values for the built-in tiers.
func DefaultPolicies() []domain.SLAPolicy {
	out := make([]domain.SLAPolicy, len(defaultPolicies))
	copy(out, defaultPolicies)
	return out
}

// IsBuiltin reports whether the priority is one of the four built-in tiers.
func IsBuiltin(priority domain.TicketPriority) bool {
	priority = priority.Normalize()
	for _, p := range domain.BuiltinPriorities() {
		if p == priority {
			return true
		}
	}
	return false
}

type policyInput struct {
	Priority              string `validate:"required,max=32,priority_name"`
	ResolutionTimeMinutes int    `validate:"gt=0"`
	ResponseTimeMinutes   int    `validate:"gt=0"`
}

// PolicyStore maps priority tiers to time targets. It is safe for concurrent use.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[domain.TicketPriority]domain.SLAPolicy
	validate *validator.Validate
	now      func() time.Time
}

// NewPolicyStore returns an empty store. Callers seed it with Load or ResetToDefaults.
func NewPolicyStore() *PolicyStore {
	v := validator.New()
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("priority_name", func(fl validator.FieldLevel) bool {
		return priorityNamePattern.MatchString(fl.Field().String())
	})
	return &PolicyStore{
		policies: make(map[domain.TicketPriority]domain.SLAPolicy),
		validate: v,
		now:      time.Now,
	}
}

// GetAll returns every policy, most lenient (longest resolution time) first.
func (s *PolicyStore) GetAll() []domain.SLAPolicy {
	s.mu.RLock()
	out := make([]domain.SLAPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sortPolicies(out)
	return out
}

// Get looks up the policy for a priority.
func (s *PolicyStore) Get(priority domain.TicketPriority) (domain.SLAPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[priority.Normalize()]
	return p, ok
}

// Len returns the number of policies.
func (s *PolicyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// Validate checks policy values without storing them and returns the normalized policy.
func (s *PolicyStore) Validate(priority domain.TicketPriority, resolutionMinutes, responseMinutes int) (domain.SLAPolicy, error) {
	in := policyInput{
		Priority:              string(priority.Normalize()),
		ResolutionTimeMinutes: resolutionMinutes,
		ResponseTimeMinutes:   responseMinutes,
	}
	if err := s.validate.Struct(in); err != nil {
		return domain.SLAPolicy{}, validationError(err)
	}
	return domain.SLAPolicy{
		Priority:              domain.TicketPriority(in.Priority),
		ResolutionTimeMinutes: resolutionMinutes,
		ResponseTimeMinutes:   responseMinutes,
	}, nil
}

// Upsert creates or replaces the policy for a priority.
func (s *PolicyStore) Upsert(priority domain.TicketPriority, resolutionMinutes, responseMinutes int) (domain.SLAPolicy, error) {
	policy, err := s.Validate(priority, resolutionMinutes, responseMinutes)
	if err != nil {
		return domain.SLAPolicy{}, err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	policy.CreatedAt = now
	if existing, ok := s.policies[policy.Priority]; ok {
		policy.CreatedAt = existing.CreatedAt
	}
	policy.UpdatedAt = now
	s.policies[policy.Priority] = policy
	return policy, nil
}

// ResetToDefaults drops every policy, custom tiers included, and reseeds the built-ins.
func (s *PolicyStore) ResetToDefaults() []domain.SLAPolicy {
	now := s.now()
	seeded := make(map[domain.TicketPriority]domain.SLAPolicy, len(defaultPolicies))
	for _, p := range defaultPolicies {
		p.CreatedAt = now
		p.UpdatedAt = now
		seeded[p.Priority] = p
	}

	s.mu.Lock()
	s.policies = seeded
	s.mu.Unlock()
	return s.GetAll()
}

// CheckRemovable returns the error Remove would return, without removing anything.
func (s *PolicyStore) CheckRemovable(priority domain.TicketPriority) error {
	priority = priority.Normalize()
	if IsBuiltin(priority) {
		return apperrors.NewConflict("built-in priority cannot be removed", map[string]any{"priority": string(priority)})
	}
	if _, ok := s.Get(priority); !ok {
		return policyNotFound(priority)
	}
	return nil
}

// Remove deletes a custom tier.
func (s *PolicyStore) Remove(priority domain.TicketPriority) error {
	priority = priority.Normalize()
	if err := s.CheckRemovable(priority); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.policies, priority)
	s.mu.Unlock()
	return nil
}

// Load replaces the store content with persisted policies. Nothing changes on error.
func (s *PolicyStore) Load(policies []domain.SLAPolicy) error {
	loaded := make(map[domain.TicketPriority]domain.SLAPolicy, len(policies))
	for _, p := range policies {
		normalized, err := s.Validate(p.Priority, p.ResolutionTimeMinutes, p.ResponseTimeMinutes)
		if err != nil {
			return err
		}
		if _, dup := loaded[normalized.Priority]; dup {
			return apperrors.NewConflict("duplicate sla policy", map[string]any{"priority": string(normalized.Priority)})
		}
		normalized.CreatedAt = p.CreatedAt
		normalized.UpdatedAt = p.UpdatedAt
		loaded[normalized.Priority] = normalized
	}

	s.mu.Lock()
	s.policies = loaded
	s.mu.Unlock()
	return nil
}

func sortPolicies(policies []domain.SLAPolicy) {
	sort.Slice(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.ResolutionTimeMinutes != b.ResolutionTimeMinutes {
			return a.ResolutionTimeMinutes > b.ResolutionTimeMinutes
		}
		if a.ResponseTimeMinutes != b.ResponseTimeMinutes {
			return a.ResponseTimeMinutes > b.ResponseTimeMinutes
		}
		return a.Priority < b.Priority
	})
}

func validationError(err error) error {
	details := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return apperrors.NewValidationError("invalid sla policy", details)
}
