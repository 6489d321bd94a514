package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// SLAPolicyRepository stores immutable per-tenant, per-tier policies.
type SLAPolicyRepository interface {
	// GetOrCreate returns the stored policy for (tenant, tier), inserting policy if none exists.
	GetOrCreate(ctx context.Context, policy *domain.SLAPolicy) (*domain.SLAPolicy, error)
	GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error)
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSLAPolicyRepository returns a Postgres-backed implementation.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

func (r *slaPolicyRepository) GetOrCreate(ctx context.Context, policy *domain.SLAPolicy) (*domain.SLAPolicy, error) {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	const insert = `
        INSERT INTO sla_policies (id, tenant_id, tier, first_response_minutes, resolution_minutes, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, tier) DO NOTHING`
	if _, err := r.pool.Exec(ctx, insert,
		policy.ID,
		policy.TenantID,
		policy.Tier,
		policy.FirstResponseMinutes,
		policy.ResolutionMinutes,
		policy.CreatedAt,
	); err != nil {
		return nil, err
	}

	const query = `
        SELECT id, tenant_id, tier, first_response_minutes, resolution_minutes, created_at
        FROM sla_policies WHERE tenant_id=$1 AND tier=$2`
	var stored domain.SLAPolicy
	if err := r.pool.QueryRow(ctx, query, policy.TenantID, policy.Tier).Scan(
		&stored.ID,
		&stored.TenantID,
		&stored.Tier,
		&stored.FirstResponseMinutes,
		&stored.ResolutionMinutes,
		&stored.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &stored, nil
}

func (r *slaPolicyRepository) GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	const query = `
        SELECT id, tenant_id, tier, first_response_minutes, resolution_minutes, created_at
        FROM sla_policies WHERE id=$1`
	var policy domain.SLAPolicy
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&policy.ID,
		&policy.TenantID,
		&policy.Tier,
		&policy.FirstResponseMinutes,
		&policy.ResolutionMinutes,
		&policy.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &policy, nil
}
