package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapphire/support-core/internal/domain"
)

// EventRepository reads the append-only event log. Appends happen inside the aggregate
// repositories so that a cache row and its log entries commit together.
type EventRepository interface {
	ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.Event, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Event, error)
}

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository instantiates repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

const eventColumns = `id, sequence, entity_type, entity_id, tenant_id, case_id, intake_id,
               event_type, actor_type, actor_id, payload, occurred_at`

func (r *eventRepository) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + `
        FROM lifecycle_events WHERE entity_type=$1 AND entity_id=$2 ORDER BY sequence ASC`
	rows, err := r.pool.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *eventRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + `
        FROM lifecycle_events WHERE tenant_id=$1 ORDER BY global_seq DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var result []domain.Event
	for rows.Next() {
		var ev domain.Event
		var actorID *string
		if err := rows.Scan(
			&ev.ID,
			&ev.Sequence,
			&ev.EntityType,
			&ev.EntityID,
			&ev.TenantID,
			&ev.CaseID,
			&ev.IntakeID,
			&ev.Type,
			&ev.Actor.Type,
			&actorID,
			&ev.Payload,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		if actorID != nil {
			ev.Actor.ID = *actorID
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// insertEvents appends events inside tx. The (entity_type, entity_id, sequence) unique key
// turns a concurrent writer that slipped past the entity lock into ErrVersionConflict.
func insertEvents(ctx context.Context, tx pgx.Tx, events []*domain.Event) error {
	const query = `
        INSERT INTO lifecycle_events (id, sequence, entity_type, entity_id, tenant_id, case_id, intake_id,
            event_type, actor_type, actor_id, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		var actorID *string
		if ev.Actor.ID != "" {
			actorID = &ev.Actor.ID
		}
		payload := ev.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if _, err := tx.Exec(ctx, query,
			ev.ID,
			ev.Sequence,
			ev.EntityType,
			ev.EntityID,
			ev.TenantID,
			ev.CaseID,
			ev.IntakeID,
			ev.Type,
			ev.Actor.Type,
			actorID,
			payload,
			ev.OccurredAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("append %s: %w", ev.Type, err)
		}
	}
	return nil
}
