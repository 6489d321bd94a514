package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrVersionConflict is returned when the stored version moved since the entity was read.
	ErrVersionConflict = errors.New("version conflict")
)

// Set bundles one implementation of every repository.
type Set struct {
	Events       EventRepository
	Cases        CaseRepository
	Tenants      TenantRepository
	Onboarding   OnboardingRepository
	Entitlements EntitlementRepository
	Policies     SLAPolicyRepository
	Intakes      IntakeRepository
}

// NewPostgresSet returns the Postgres implementations over pool.
func NewPostgresSet(pool *pgxpool.Pool) Set {
	return Set{
		Events:       NewEventRepository(pool),
		Cases:        NewCaseRepository(pool),
		Tenants:      NewTenantRepository(pool),
		Onboarding:   NewOnboardingRepository(pool),
		Entitlements: NewEntitlementRepository(pool),
		Policies:     NewSLAPolicyRepository(pool),
		Intakes:      NewIntakeRepository(pool),
	}
}

const (
	uniqueViolation  = "23505"
	invalidTextInput = "22P02"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// mapNoRows turns a missing row, or an id that cannot be a row key at all, into ErrNotFound.
func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextInput {
		return ErrNotFound
	}
	return err
}
