package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mediremind/mediremind/internal/platform/clock"
)

// Repository is the reminder store. Claim, sweep, release, and transition
// are all single conditional statements so concurrent dispatchers and user
// actions never double-apply a state change.
type Repository interface {
	// CreateBatch inserts the rows, assigning ids, and returns how many were
	// actually created. Rows colliding with an existing (medication,
	// scheduled_time) pair are silently dropped.
	CreateBatch(ctx context.Context, reminders []*Reminder) (int, error)

	GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Reminder, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Reminder, int, error)
	ListByMedication(ctx context.Context, medicationID, accountID uuid.UUID, limit, offset int) ([]*Reminder, int, error)

	// Today returns the account's reminders scheduled on the current UTC day.
	Today(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Reminder, error)
	// Upcoming returns pending reminders scheduled in [from, until].
	Upcoming(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]*Reminder, error)

	// ScheduledSet returns the normalized instants already persisted for the
	// medication inside the window. This is the duplicate-prevention set.
	ScheduledSet(ctx context.Context, medicationID uuid.UUID, w clock.Window) (map[time.Time]struct{}, error)

	// DeleteFuturePending removes only pending rows scheduled after now,
	// leaving dispatched and historical rows untouched.
	DeleteFuturePending(ctx context.Context, medicationID uuid.UUID, now time.Time) (int, error)

	// SweepMissed transitions pending and stale sending rows scheduled
	// before cutoff to missed and returns how many moved.
	SweepMissed(ctx context.Context, cutoff time.Time) (int, error)

	// ClaimDue atomically moves up to limit due rows from pending (or from
	// sending when last touched before staleBefore, covering crashed runs)
	// to sending, returning them joined with medication name and dosage.
	// Only active medications are claimed.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Due, error)

	// MarkSent settles a claimed row to sent. A row no longer in sending is
	// left alone: a user transition landed first and wins.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// Release puts a claimed row back to pending after a notify failure so
	// the next run retries it.
	Release(ctx context.Context, id uuid.UUID) error

	// Transition conditionally moves a non-terminal row to target, setting
	// taken-at and notes when given. Reports false when the row was already
	// terminal or missing.
	Transition(ctx context.Context, id uuid.UUID, target Status, takenAt *time.Time, notes *string) (bool, error)

	Delete(ctx context.Context, id, accountID uuid.UUID) error
}
