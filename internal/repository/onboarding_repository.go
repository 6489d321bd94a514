package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// OnboardingRepository persists onboarding sessions and their steps. A tenant has at most
// one session; a second Create for the same tenant returns ErrAlreadyExists.
type OnboardingRepository interface {
	Create(ctx context.Context, session *domain.OnboardingSession, events []*domain.Event) error
	Save(ctx context.Context, session *domain.OnboardingSession, expectedVersion int64, events []*domain.Event) error
	GetByTenant(ctx context.Context, tenantID string) (*domain.OnboardingSession, error)
}

type onboardingRepository struct {
	pool *pgxpool.Pool
}

// NewOnboardingRepository returns a Postgres-backed implementation.
func NewOnboardingRepository(pool *pgxpool.Pool) OnboardingRepository {
	return &onboardingRepository{pool: pool}
}

func (r *onboardingRepository) Create(ctx context.Context, session *domain.OnboardingSession, events []*domain.Event) error {
	const query = `
        INSERT INTO onboarding_sessions (id, tenant_id, phase, status, status_reason, trigger_source,
            version, started_at, completed_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			session.ID,
			session.TenantID,
			session.Phase,
			session.Status,
			session.StatusReason,
			session.TriggerSource,
			session.Version,
			session.StartedAt,
			session.CompletedAt,
			session.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		if err := upsertSteps(ctx, tx, session); err != nil {
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *onboardingRepository) Save(ctx context.Context, session *domain.OnboardingSession, expectedVersion int64, events []*domain.Event) error {
	const query = `
        UPDATE onboarding_sessions SET phase=$1, status=$2, status_reason=$3, trigger_source=$4,
            version=$5, completed_at=$6, updated_at=$7
        WHERE id=$8 AND version=$9`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			session.Phase,
			session.Status,
			session.StatusReason,
			session.TriggerSource,
			session.Version,
			session.CompletedAt,
			session.UpdatedAt,
			session.ID,
			expectedVersion,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		if err := upsertSteps(ctx, tx, session); err != nil {
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *onboardingRepository) GetByTenant(ctx context.Context, tenantID string) (*domain.OnboardingSession, error) {
	const query = `
        SELECT id, tenant_id, phase, status, status_reason, trigger_source, version,
               started_at, completed_at, updated_at
        FROM onboarding_sessions WHERE tenant_id=$1`

	var session domain.OnboardingSession
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&session.ID,
		&session.TenantID,
		&session.Phase,
		&session.Status,
		&session.StatusReason,
		&session.TriggerSource,
		&session.Version,
		&session.StartedAt,
		&session.CompletedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}

	const stepsQuery = `
        SELECT id, session_id, phase, step_key, label, completed, completed_at, metadata
        FROM onboarding_steps WHERE session_id=$1
        ORDER BY created_at ASC, step_key ASC`
	rows, err := r.pool.Query(ctx, stepsQuery, session.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.OnboardingStep
		if err := rows.Scan(
			&step.ID,
			&step.SessionID,
			&step.Phase,
			&step.Key,
			&step.Label,
			&step.Completed,
			&step.CompletedAt,
			&step.Metadata,
		); err != nil {
			return nil, err
		}
		session.Steps = append(session.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &session, nil
}

// upsertSteps writes every step of the session. A step row is created once per
// (session, phase, key) and afterwards only its completion fields move.
func upsertSteps(ctx context.Context, tx pgx.Tx, session *domain.OnboardingSession) error {
	const query = `
        INSERT INTO onboarding_steps (id, session_id, phase, step_key, label, completed, completed_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (session_id, phase, step_key)
        DO UPDATE SET completed=EXCLUDED.completed, completed_at=EXCLUDED.completed_at, metadata=EXCLUDED.metadata`

	for i := range session.Steps {
		step := &session.Steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.SessionID = session.ID
		metadata := step.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, err := tx.Exec(ctx, query,
			step.ID,
			step.SessionID,
			step.Phase,
			step.Key,
			step.Label,
			step.Completed,
			step.CompletedAt,
			metadata,
		); err != nil {
			return err
		}
	}
	return nil
}
