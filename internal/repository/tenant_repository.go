package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// TenantRepository defines persistence access for tenants.
type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant, events []*domain.Event) error
	Save(ctx context.Context, tenant *domain.Tenant, expectedVersion int64, events []*domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetByDomain(ctx context.Context, primaryDomain string) (*domain.Tenant, error)
	GetByName(ctx context.Context, name string) (*domain.Tenant, error)
}

type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository returns a Postgres-backed implementation.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

const tenantColumns = `id, name, primary_domain, tier, version, created_at, updated_at`

func (r *tenantRepository) Create(ctx context.Context, tenant *domain.Tenant, events []*domain.Event) error {
	const query = `
        INSERT INTO tenants (id, name, primary_domain, tier, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			tenant.ID,
			tenant.Name,
			tenant.PrimaryDomain,
			tenant.Tier,
			tenant.Version,
			tenant.CreatedAt,
			tenant.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *tenantRepository) Save(ctx context.Context, tenant *domain.Tenant, expectedVersion int64, events []*domain.Event) error {
	const query = `
        UPDATE tenants SET name=$1, primary_domain=$2, tier=$3, version=$4, updated_at=$5
        WHERE id=$6 AND version=$7`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			tenant.Name,
			tenant.PrimaryDomain,
			tenant.Tier,
			tenant.Version,
			tenant.UpdatedAt,
			tenant.ID,
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

func (r *tenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
}

func (r *tenantRepository) GetByDomain(ctx context.Context, primaryDomain string) (*domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE primary_domain=$1`, primaryDomain)
}

func (r *tenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE name=$1`, name)
}

func (r *tenantRepository) getOne(ctx context.Context, query string, arg string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.PrimaryDomain,
		&tenant.Tier,
		&tenant.Version,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &tenant, nil
}
