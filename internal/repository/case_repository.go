package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// CaseRepository persists the case cache row together with its log entries.
type CaseRepository interface {
	Create(ctx context.Context, c *domain.Case, events []*domain.Event) error
	Save(ctx context.Context, c *domain.Case, expectedVersion int64, events []*domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	ListOpen(ctx context.Context, afterID string, limit int) ([]*domain.Case, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Case, error)
}

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository returns a Postgres-backed implementation.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

const caseColumns = `id, tenant_id, title, status, priority, category, created_by, owner_id,
               first_response_at, resolved_at, version, created_at, updated_at`

func (r *caseRepository) Create(ctx context.Context, c *domain.Case, events []*domain.Event) error {
	const query = `
        INSERT INTO cases (id, tenant_id, title, status, priority, category, created_by, owner_id,
            first_response_at, resolved_at, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			c.ID,
			c.TenantID,
			c.Title,
			c.Status,
			c.Priority,
			c.Category,
			c.CreatedBy,
			c.OwnerID,
			c.FirstResponseAt,
			c.ResolvedAt,
			c.Version,
			c.CreatedAt,
			c.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *caseRepository) Save(ctx context.Context, c *domain.Case, expectedVersion int64, events []*domain.Event) error {
	const query = `
        UPDATE cases SET status=$1, priority=$2, owner_id=$3, first_response_at=$4, resolved_at=$5,
            version=$6, updated_at=$7
        WHERE id=$8 AND version=$9`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			c.Status,
			c.Priority,
			c.OwnerID,
			c.FirstResponseAt,
			c.ResolvedAt,
			c.Version,
			c.UpdatedAt,
			c.ID,
			expectedVersion,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id=$1`
	c, err := scanCase(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return c, nil
}

// ListOpen pages through unresolved cases in id order, starting after afterID.
func (r *caseRepository) ListOpen(ctx context.Context, afterID string, limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	query := `SELECT ` + caseColumns + `
        FROM cases
        WHERE status NOT IN ('resolved', 'closed') AND id > $1
        ORDER BY id ASC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (r *caseRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + caseColumns + `
        FROM cases WHERE tenant_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Title,
		&c.Status,
		&c.Priority,
		&c.Category,
		&c.CreatedBy,
		&c.OwnerID,
		&c.FirstResponseAt,
		&c.ResolvedAt,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCases(rows pgx.Rows) ([]*domain.Case, error) {
	var result []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
