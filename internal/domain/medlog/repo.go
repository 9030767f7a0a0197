package medlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the adherence-history store.
type Repository interface {
	Create(ctx context.Context, entry *Log) error
	GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Log, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Log, int, error)

	// Void marks the entry voided, stamping voided-at and replacing notes
	// when given. Entries already voided are left alone and reported as
	// ErrNotFound.
	Void(ctx context.Context, id, accountID uuid.UUID, at time.Time, notes *string) (*Log, error)

	// CountByAction returns non-voided entry counts grouped by action for
	// the window, optionally narrowed to one medication.
	CountByAction(ctx context.Context, accountID uuid.UUID, medicationID *uuid.UUID, from, until time.Time) (map[Action]int, error)

	// DistinctMedications lists the medications with non-voided entries in
	// the window, named by their snapshots.
	DistinctMedications(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]MedicationRef, error)

	// Summary aggregates non-voided activity since the given instant.
	Summary(ctx context.Context, accountID uuid.UUID, since time.Time) (*Summary, error)

	// ExistsForMedication reports whether any entry references the
	// medication, voided or not.
	ExistsForMedication(ctx context.Context, medicationID uuid.UUID) (bool, error)
}
