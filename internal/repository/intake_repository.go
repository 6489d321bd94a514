package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// IntakeRepository stores inbound messages, their classification and the routing decision.
// All three are written once.
type IntakeRepository interface {
	Create(ctx context.Context, intake *domain.Intake, classification *domain.Classification, events []*domain.Event) error
	SaveDecision(ctx context.Context, decision *domain.RoutingDecision, events []*domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Intake, error)
	GetDecision(ctx context.Context, intakeID string) (*domain.RoutingDecision, error)
}

type intakeRepository struct {
	pool *pgxpool.Pool
}

// NewIntakeRepository returns a Postgres-backed implementation.
func NewIntakeRepository(pool *pgxpool.Pool) IntakeRepository {
	return &intakeRepository{pool: pool}
}

func (r *intakeRepository) Create(ctx context.Context, intake *domain.Intake, classification *domain.Classification, events []*domain.Event) error {
	const intakeQuery = `
        INSERT INTO intake_events (id, source, tenant_id, from_email, subject, body_text, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	const classificationQuery = `
        INSERT INTO intent_classifications (id, intake_id, intent, urgency, confidence, compliance_flag,
            recommended_action, model_used, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, intakeQuery,
			intake.ID,
			intake.Source,
			intake.TenantID,
			intake.FromEmail,
			intake.Subject,
			intake.BodyText,
			intake.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		if classification != nil {
			if _, err := tx.Exec(ctx, classificationQuery,
				classification.ID,
				intake.ID,
				classification.Intent,
				classification.Urgency,
				classification.Confidence,
				classification.ComplianceFlag,
				classification.RecommendedAction,
				classification.ModelUsed,
				classification.CreatedAt,
			); err != nil {
				return err
			}
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *intakeRepository) SaveDecision(ctx context.Context, decision *domain.RoutingDecision, events []*domain.Event) error {
	const query = `
        INSERT INTO routing_decisions (intake_id, action, tier, case_id, decided_at)
        VALUES ($1,$2,$3,$4,$5)`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			decision.IntakeID,
			decision.Action,
			decision.Tier,
			decision.CaseID,
			decision.DecidedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *intakeRepository) GetByID(ctx context.Context, id string) (*domain.Intake, error) {
	const query = `
        SELECT id, source, tenant_id, from_email, subject, body_text, created_at
        FROM intake_events WHERE id=$1`
	var intake domain.Intake
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&intake.ID,
		&intake.Source,
		&intake.TenantID,
		&intake.FromEmail,
		&intake.Subject,
		&intake.BodyText,
		&intake.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &intake, nil
}

func (r *intakeRepository) GetDecision(ctx context.Context, intakeID string) (*domain.RoutingDecision, error) {
	const query = `
        SELECT intake_id, action, tier, case_id, decided_at
        FROM routing_decisions WHERE intake_id=$1`
	var decision domain.RoutingDecision
	if err := r.pool.QueryRow(ctx, query, intakeID).Scan(
		&decision.IntakeID,
		&decision.Action,
		&decision.Tier,
		&decision.CaseID,
		&decision.DecidedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &decision, nil
}
