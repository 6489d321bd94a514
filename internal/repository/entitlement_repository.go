package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// EntitlementRepository stores one overwritable snapshot per tenant.
type EntitlementRepository interface {
	Upsert(ctx context.Context, ent *domain.Entitlement) error
	Get(ctx context.Context, tenantID string) (*domain.Entitlement, error)
}

type entitlementRepository struct {
	pool *pgxpool.Pool
}

// NewEntitlementRepository returns a Postgres-backed implementation.
func NewEntitlementRepository(pool *pgxpool.Pool) EntitlementRepository {
	return &entitlementRepository{pool: pool}
}

func (r *entitlementRepository) Upsert(ctx context.Context, ent *domain.Entitlement) error {
	const query = `
        INSERT INTO tenant_entitlements (tenant_id, tier, sla_policy_id, portal_enabled, freescout_enabled,
            ai_features, onboarding_status, effective_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (tenant_id) DO UPDATE SET
            tier=EXCLUDED.tier,
            sla_policy_id=EXCLUDED.sla_policy_id,
            portal_enabled=EXCLUDED.portal_enabled,
            freescout_enabled=EXCLUDED.freescout_enabled,
            ai_features=EXCLUDED.ai_features,
            onboarding_status=EXCLUDED.onboarding_status,
            effective_at=EXCLUDED.effective_at,
            updated_at=EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		ent.TenantID,
		ent.Tier,
		ent.SLAPolicyID,
		ent.PortalEnabled,
		ent.FreescoutEnabled,
		ent.AIFeatures,
		ent.OnboardingStatus,
		ent.EffectiveAt,
		ent.UpdatedAt,
	)
	return err
}

func (r *entitlementRepository) Get(ctx context.Context, tenantID string) (*domain.Entitlement, error) {
	const query = `
        SELECT tenant_id, tier, sla_policy_id, portal_enabled, freescout_enabled, ai_features,
               onboarding_status, effective_at, updated_at
        FROM tenant_entitlements WHERE tenant_id=$1`

	var ent domain.Entitlement
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&ent.TenantID,
		&ent.Tier,
		&ent.SLAPolicyID,
		&ent.PortalEnabled,
		&ent.FreescoutEnabled,
		&ent.AIFeatures,
		&ent.OnboardingStatus,
		&ent.EffectiveAt,
		&ent.UpdatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &ent, nil
}
