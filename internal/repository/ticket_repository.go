package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idesk/helpdesk/internal/domain"
)

const ticketTable = "tickets"

var ticketColumns = []string{
	"id", "external_key", "requester_id", "assignee_id", "title", "description",
	"status", "priority", "tags",
	"sla_state", "sla_started_at", "first_response_at", "first_response_target",
	"is_first_response_breached", "resolved_at", "waiting_vendor_at", "total_waiting_vendor_seconds",
	"version", "created_at", "updated_at", "closed_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// TicketFilter captures staff search parameters.
type TicketFilter struct {
	AssigneeID *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	SLAStates  []domain.SLAState
	SearchTerm *string
	Limit      int
	Offset     int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes the ticket if its Version matches the stored one and bumps Version.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListForEvaluation pages RUNNING and PAUSED tickets ordered by id.
	ListForEvaluation(ctx context.Context, afterID string, limit int) ([]domain.Ticket, error)
	// MarkFirstResponseBreached sets the breach flag unless already set and reports
	// whether this call flipped it.
	MarkFirstResponseBreached(ctx context.Context, id string) (bool, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	sla := ticket.SLA
	query, args, err := psql.Insert(ticketTable).
		Columns(
			"id", "external_key", "requester_id", "assignee_id", "title", "description",
			"status", "priority", "tags",
			"sla_state", "sla_started_at", "first_response_at", "first_response_target",
			"is_first_response_breached", "resolved_at", "waiting_vendor_at", "total_waiting_vendor_seconds",
			"version",
		).
		Values(
			ticket.ID, ticket.ExternalKey, ticket.RequesterID, ticket.AssigneeID, ticket.Title, ticket.Description,
			ticket.Status, ticket.Priority, tagsOrEmpty(ticket.Tags),
			sla.CurrentState(), sla.StartedAt, sla.FirstResponseAt, sla.FirstResponseTarget,
			sla.FirstResponseBreached, sla.ResolvedAt, sla.WaitingVendorAt, int64(sla.TotalWaitingVendor/time.Second),
			1,
		).
		Suffix("RETURNING version, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build ticket insert: %w", err)
	}
	return r.pool.QueryRow(ctx, query, args...).Scan(&ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	sla := ticket.SLA
	query, args, err := psql.Update(ticketTable).
		Set("assignee_id", ticket.AssigneeID).
		Set("title", ticket.Title).
		Set("description", ticket.Description).
		Set("status", ticket.Status).
		Set("priority", ticket.Priority).
		Set("tags", tagsOrEmpty(ticket.Tags)).
		Set("sla_state", sla.CurrentState()).
		Set("sla_started_at", sla.StartedAt).
		Set("first_response_at", sla.FirstResponseAt).
		Set("first_response_target", sla.FirstResponseTarget).
		Set("is_first_response_breached", sla.FirstResponseBreached).
		Set("resolved_at", sla.ResolvedAt).
		Set("waiting_vendor_at", sla.WaitingVendorAt).
		Set("total_waiting_vendor_seconds", int64(sla.TotalWaitingVendor/time.Second)).
		Set("closed_at", ticket.ClosedAt).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": ticket.ID, "version": ticket.Version}).
		Suffix("RETURNING version, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build ticket update: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&ticket.Version, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, ticket.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query, args, err := psql.Select(ticketColumns...).From(ticketTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ticket select: %w", err)
	}
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	builder := psql.Select(ticketColumns...).From(ticketTable)

	if filter.AssigneeID != nil {
		builder = builder.Where(sq.Eq{"assignee_id": *filter.AssigneeID})
	}
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": filter.Statuses})
	}
	if len(filter.Priorities) > 0 {
		builder = builder.Where(sq.Eq{"priority": filter.Priorities})
	}
	if len(filter.SLAStates) > 0 {
		builder = builder.Where(sq.Eq{"sla_state": filter.SLAStates})
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		builder = builder.Where(sq.Or{
			sq.Like{"LOWER(title)": search},
			sq.Like{"LOWER(description)": search},
		})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query, args, err := builder.OrderBy("updated_at DESC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ticket list: %w", err)
	}
	return r.query(ctx, query, args)
}

func (r *ticketRepository) ListForEvaluation(ctx context.Context, afterID string, limit int) ([]domain.Ticket, error) {
	builder := psql.Select(ticketColumns...).
		From(ticketTable).
		Where(sq.Eq{"sla_state": []domain.SLAState{domain.SLAStateRunning, domain.SLAStatePaused}})
	if afterID != "" {
		builder = builder.Where(sq.Gt{"id": afterID})
	}
	query, args, err := builder.OrderBy("id ASC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build evaluation page: %w", err)
	}
	return r.query(ctx, query, args)
}

func (r *ticketRepository) MarkFirstResponseBreached(ctx context.Context, id string) (bool, error) {
	query, args, err := psql.Update(ticketTable).
		Set("is_first_response_breached", true).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "is_first_response_breached": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build breach flag update: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) query(ctx context.Context, query string, args []any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket         domain.Ticket
		waitingSeconds int64
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Tags,
		&ticket.SLA.State,
		&ticket.SLA.StartedAt,
		&ticket.SLA.FirstResponseAt,
		&ticket.SLA.FirstResponseTarget,
		&ticket.SLA.FirstResponseBreached,
		&ticket.SLA.ResolvedAt,
		&ticket.SLA.WaitingVendorAt,
		&waitingSeconds,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	ticket.SLA.TotalWaitingVendor = time.Duration(waitingSeconds) * time.Second
	return &ticket, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
