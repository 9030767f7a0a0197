package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/platform/clock"
)

const regenPageSize = 200

// MedicationStore is the slice of the medication repository this package
// needs: the active set for batch regeneration and the atomic stock
// decrement for taken doses.
type MedicationStore interface {
	ListActive(ctx context.Context, limit, offset int) ([]*medication.Medication, int, error)
	DecrementStockForIntake(ctx context.Context, id uuid.UUID) error
}

// TxRunner runs fn inside a transaction, reusing an ambient one when the
// context already carries it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// IntakeLogger records an adherence event for a reminder transition. The
// implementation writes through the ambient transaction so the log commits
// with the status flip.
type IntakeLogger interface {
	LogIntake(ctx context.Context, entry IntakeEntry) error
}

// IntakeEntry describes a reminder-sourced adherence event.
type IntakeEntry struct {
	AccountID    uuid.UUID
	MedicationID uuid.UUID
	ReminderID   uuid.UUID
	Action       string
	At           time.Time
	Notes        *string
}

type Service struct {
	repo  Repository
	meds  MedicationStore
	logs  IntakeLogger
	tx    TxRunner
	exp   *Expander
	clock clock.Clock
	log   zerolog.Logger
}

func NewService(repo Repository, meds MedicationStore, logs IntakeLogger, tx TxRunner, c clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		meds:  meds,
		logs:  logs,
		tx:    tx,
		exp:   NewExpander(log),
		clock: c,
		log:   log.With().Str("component", "reminder").Logger(),
	}
}

// Regenerate materializes the medication's schedule daysAhead days out.
// The clear-future delete, the duplicate-set read, and the batch insert
// commit as one unit, so a schedule edit can never leave a partial set
// behind. Calling it again without clock advance creates nothing.
func (s *Service) Regenerate(ctx context.Context, med *medication.Medication, daysAhead int, clearFuture bool) (int, error) {
	if !med.IsActive {
		return 0, nil
	}
	now := s.clock.Now()
	w, ok := clock.GenerationWindow(now, daysAhead, med.StartDatetime, med.EndDatetime)
	if !ok {
		return 0, nil
	}

	created := 0
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if clearFuture {
			cleared, err := s.repo.DeleteFuturePending(ctx, med.ID, clock.Normalize(now))
			if err != nil {
				return err
			}
			if cleared > 0 {
				s.log.Debug().
					Str("medication_id", med.ID.String()).
					Int("cleared", cleared).
					Msg("cleared future pending reminders")
			}
		}

		existing, err := s.repo.ScheduledSet(ctx, med.ID, w)
		if err != nil {
			return err
		}

		instants := s.exp.Expand(med, w, existing)
		if len(instants) == 0 {
			return nil
		}

		batch := make([]*Reminder, 0, len(instants))
		for _, at := range instants {
			batch = append(batch, &Reminder{
				MedicationID:  med.ID,
				AccountID:     med.AccountID,
				ScheduledTime: at,
				Status:        StatusPending,
			})
		}
		created, err = s.repo.CreateBatch(ctx, batch)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// RegenerateAll pages through active medications and regenerates each in
// its own transaction. One medication's failure is logged and skipped, not
// propagated, so the nightly batch always covers the rest.
func (s *Service) RegenerateAll(ctx context.Context, daysAhead int) (int, error) {
	total := 0
	failed := 0
	offset := 0
	for {
		meds, n, err := s.meds.ListActive(ctx, regenPageSize, offset)
		if err != nil {
			return total, err
		}
		for _, med := range meds {
			created, err := s.Regenerate(ctx, med, daysAhead, false)
			if err != nil {
				failed++
				s.log.Error().Err(err).
					Str("medication_id", med.ID.String()).
					Msg("regeneration failed")
				continue
			}
			total += created
		}
		offset += len(meds)
		if len(meds) == 0 || offset >= n {
			break
		}
	}
	s.log.Info().Int("created", total).Int("failed", failed).Msg("regeneration pass complete")
	return total, nil
}

// MarkTaken flips the reminder to taken and decrements the medication's
// stock by one in the same transaction. Marking an already-taken reminder
// is a no-op; skipped and missed are terminal.
func (s *Service) MarkTaken(ctx context.Context, id, accountID uuid.UUID, takenAt *time.Time, notes *string) (*Reminder, error) {
	rem, err := s.repo.GetByIDForAccount(ctx, id, accountID)
	if err != nil {
		return nil, err
	}
	if rem.Status == StatusTaken {
		return rem, nil
	}
	if rem.Status.Terminal() {
		return nil, ErrTerminalState
	}

	at := s.clock.Now()
	if takenAt != nil {
		at = *takenAt
	}
	at = clock.Normalize(at)

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Transition(ctx, id, StatusTaken, &at, notes)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTerminalState
		}
		if err := s.meds.DecrementStockForIntake(ctx, rem.MedicationID); err != nil {
			return err
		}
		return s.logs.LogIntake(ctx, IntakeEntry{
			AccountID:    accountID,
			MedicationID: rem.MedicationID,
			ReminderID:   rem.ID,
			Action:       string(StatusTaken),
			At:           at,
			Notes:        notes,
		})
	})
	if err != nil {
		return nil, err
	}

	rem.Status = StatusTaken
	rem.TakenAt = &at
	if notes != nil {
		rem.Notes = notes
	}
	return rem, nil
}

func (s *Service) MarkSkipped(ctx context.Context, id, accountID uuid.UUID, notes *string) (*Reminder, error) {
	return s.mark(ctx, id, accountID, StatusSkipped, notes)
}

func (s *Service) MarkMissed(ctx context.Context, id, accountID uuid.UUID, notes *string) (*Reminder, error) {
	return s.mark(ctx, id, accountID, StatusMissed, notes)
}

func (s *Service) mark(ctx context.Context, id, accountID uuid.UUID, target Status, notes *string) (*Reminder, error) {
	rem, err := s.repo.GetByIDForAccount(ctx, id, accountID)
	if err != nil {
		return nil, err
	}
	if rem.Status == target {
		return rem, nil
	}
	if rem.Status.Terminal() {
		return nil, ErrTerminalState
	}

	at := clock.Normalize(s.clock.Now())
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Transition(ctx, id, target, nil, notes)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTerminalState
		}
		return s.logs.LogIntake(ctx, IntakeEntry{
			AccountID:    accountID,
			MedicationID: rem.MedicationID,
			ReminderID:   rem.ID,
			Action:       string(target),
			At:           at,
			Notes:        notes,
		})
	})
	if err != nil {
		return nil, err
	}

	rem.Status = target
	if notes != nil {
		rem.Notes = notes
	}
	return rem, nil
}

func (s *Service) Get(ctx context.Context, id, accountID uuid.UUID) (*Reminder, error) {
	return s.repo.GetByIDForAccount(ctx, id, accountID)
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Reminder, int, error) {
	return s.repo.ListByAccount(ctx, accountID, f, limit, offset)
}

func (s *Service) ListByMedication(ctx context.Context, medicationID, accountID uuid.UUID, limit, offset int) ([]*Reminder, int, error) {
	return s.repo.ListByMedication(ctx, medicationID, accountID, limit, offset)
}

func (s *Service) Today(ctx context.Context, accountID uuid.UUID) ([]*Reminder, error) {
	return s.repo.Today(ctx, accountID, s.clock.Now())
}

func (s *Service) Upcoming(ctx context.Context, accountID uuid.UUID, hours int) ([]*Reminder, error) {
	from := clock.Normalize(s.clock.Now())
	return s.repo.Upcoming(ctx, accountID, from, from.Add(time.Duration(hours)*time.Hour))
}

// Delete removes the reminder outright. Stock spent on a taken reminder
// stays spent.
func (s *Service) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	if _, err := s.repo.GetByIDForAccount(ctx, id, accountID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id, accountID)
}
