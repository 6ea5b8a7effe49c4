package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idesk/helpdesk/internal/domain"
)

const policyTable = "sla_policies"

// SLAPolicyRepository persists priority tiers.
type SLAPolicyRepository interface {
	GetAll(ctx context.Context) ([]domain.SLAPolicy, error)
	Upsert(ctx context.Context, policy *domain.SLAPolicy) error
	// ReplaceAll swaps the whole table for the given set in one transaction.
	ReplaceAll(ctx context.Context, policies []domain.SLAPolicy) error
	Delete(ctx context.Context, priority domain.TicketPriority) error
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSLAPolicyRepository builds repository.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

func (r *slaPolicyRepository) GetAll(ctx context.Context) ([]domain.SLAPolicy, error) {
	query, args, err := psql.Select("priority", "resolution_time_minutes", "response_time_minutes", "created_at", "updated_at").
		From(policyTable).
		OrderBy("priority").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build policy select: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var p domain.SLAPolicy
		if err := rows.Scan(&p.Priority, &p.ResolutionTimeMinutes, &p.ResponseTimeMinutes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *slaPolicyRepository) Upsert(ctx context.Context, policy *domain.SLAPolicy) error {
	query, args, err := upsertPolicy(*policy)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, query, args...).Scan(&policy.CreatedAt, &policy.UpdatedAt)
}

func (r *slaPolicyRepository) ReplaceAll(ctx context.Context, policies []domain.SLAPolicy) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM "+policyTable); err != nil {
			return fmt.Errorf("clear policies: %w", err)
		}
		for i := range policies {
			query, args, err := upsertPolicy(policies[i])
			if err != nil {
				return err
			}
			if err := tx.QueryRow(ctx, query, args...).Scan(&policies[i].CreatedAt, &policies[i].UpdatedAt); err != nil {
				return fmt.Errorf("insert policy %s: %w", policies[i].Priority, err)
			}
		}
		return nil
	})
}

func (r *slaPolicyRepository) Delete(ctx context.Context, priority domain.TicketPriority) error {
	query, args, err := psql.Delete(policyTable).Where(sq.Eq{"priority": priority}).ToSql()
	if err != nil {
		return fmt.Errorf("build policy delete: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func upsertPolicy(p domain.SLAPolicy) (string, []any, error) {
	query, args, err := psql.Insert(policyTable).
		Columns("priority", "resolution_time_minutes", "response_time_minutes").
		Values(p.Priority, p.ResolutionTimeMinutes, p.ResponseTimeMinutes).
		Suffix(`ON CONFLICT (priority) DO UPDATE SET
            resolution_time_minutes = EXCLUDED.resolution_time_minutes,
            response_time_minutes = EXCLUDED.response_time_minutes,
            updated_at = NOW()
        RETURNING created_at, updated_at`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build policy upsert: %w", err)
	}
	return query, args, nil
}
