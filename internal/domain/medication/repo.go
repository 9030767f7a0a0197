package medication

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence surface for medications. Every read and
// write is scoped to the owning account except ListActive, which the
// background reminder generator uses across accounts.
type Repository interface {
	Create(ctx context.Context, m *Medication) error
	GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Medication, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error)
	ListActive(ctx context.Context, limit, offset int) ([]*Medication, int, error)
	ListLowStock(ctx context.Context, accountID uuid.UUID) ([]*Medication, error)
	Update(ctx context.Context, m *Medication) error
	// AdjustStock applies a signed delta and returns the updated row. It
	// fails with ErrInsufficientStock when the delta would go below zero.
	AdjustStock(ctx context.Context, id, accountID uuid.UUID, delta int) (*Medication, error)
	// DecrementStockForIntake takes one unit off the count when a dose is
	// recorded as taken. At zero stock it is a no-op.
	DecrementStockForIntake(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id, accountID uuid.UUID) error
	Delete(ctx context.Context, id, accountID uuid.UUID) error
}
