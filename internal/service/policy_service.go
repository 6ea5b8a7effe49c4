package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/sla"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

// PolicyService keeps the persisted policy table and the in-memory store in step.
// Writes go to the repository first, so a failed write leaves the store untouched.
type PolicyService struct {
	store  *sla.PolicyStore
	repo   repository.SLAPolicyRepository
	logger *zap.Logger
}

// PolicyDependencies bundles collaborators for the policy service.
type PolicyDependencies struct {
	Store  *sla.PolicyStore
	Repo   repository.SLAPolicyRepository
	Logger *zap.Logger
}

// NewPolicyService constructs the service.
func NewPolicyService(deps PolicyDependencies) *PolicyService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{store: deps.Store, repo: deps.Repo, logger: logger}
}

// Bootstrap loads persisted policies into the store, seeding the defaults on first run.
func (s *PolicyService) Bootstrap(ctx context.Context) error {
	policies, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		defaults := sla.DefaultPolicies()
		if err := s.repo.ReplaceAll(ctx, defaults); err != nil {
			return err
		}
		s.logger.Info("seeded default sla policies", zap.Int("count", len(defaults)))
		return s.store.Load(defaults)
	}
	if err := s.store.Load(policies); err != nil {
		return err
	}
	s.logger.Info("loaded sla policies", zap.Int("count", len(policies)))
	return nil
}

// List returns all tiers, most lenient first.
func (s *PolicyService) List() []domain.SLAPolicy {
	return s.store.GetAll()
}

// Upsert creates or replaces a tier. Deadlines of existing tickets follow on their next read.
func (s *PolicyService) Upsert(ctx context.Context, priority domain.TicketPriority, resolutionMinutes, responseMinutes int) (domain.SLAPolicy, error) {
	policy, err := s.store.Validate(priority, resolutionMinutes, responseMinutes)
	if err != nil {
		return domain.SLAPolicy{}, err
	}
	if err := s.repo.Upsert(ctx, &policy); err != nil {
		return domain.SLAPolicy{}, apperrors.NewInternalError(err)
	}
	stored, err := s.store.Upsert(policy.Priority, policy.ResolutionTimeMinutes, policy.ResponseTimeMinutes)
	if err != nil {
		return domain.SLAPolicy{}, err
	}
	s.logger.Info("sla policy upserted",
		zap.String("priority", string(stored.Priority)),
		zap.Int("resolution_minutes", stored.ResolutionTimeMinutes),
		zap.Int("response_minutes", stored.ResponseTimeMinutes),
	)
	return stored, nil
}

// ResetToDefaults drops every tier, custom ones included, and reseeds the built-ins.
func (s *PolicyService) ResetToDefaults(ctx context.Context) ([]domain.SLAPolicy, error) {
	if err := s.repo.ReplaceAll(ctx, sla.DefaultPolicies()); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	policies := s.store.ResetToDefaults()
	s.logger.Warn("sla policies reset to defaults")
	return policies, nil
}

// Remove deletes a custom tier. Built-in tiers are rejected with a conflict.
func (s *PolicyService) Remove(ctx context.Context, priority domain.TicketPriority) error {
	priority = priority.Normalize()
	if err := s.store.CheckRemovable(priority); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, priority); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewInternalError(err)
	}
	if err := s.store.Remove(priority); err != nil {
		return err
	}
	s.logger.Info("sla policy removed", zap.String("priority", string(priority)))
	return nil
}
