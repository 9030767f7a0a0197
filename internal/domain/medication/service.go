package medication

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reminder generation horizons: a fresh medication gets a week of
// reminders up front; schedule edits rebuild a month so the new plan is
// visible well ahead.
const (
	createHorizonDays = 7
	updateHorizonDays = 30
)

// ReminderPlanner regenerates the reminder plan for one medication.
// Implemented by the reminder service and wired in main.
type ReminderPlanner interface {
	Regenerate(ctx context.Context, med *Medication, daysAhead int, clearFuture bool) (int, error)
}

// HistoryChecker reports whether any dose history was recorded for a
// medication. Deletion keeps rows that history still references.
type HistoryChecker interface {
	ExistsForMedication(ctx context.Context, medicationID uuid.UUID) (bool, error)
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo    Repository
	planner ReminderPlanner
	history HistoryChecker
	tx      TxRunner
	log     zerolog.Logger
}

func NewService(repo Repository, planner ReminderPlanner, history HistoryChecker, tx TxRunner, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		planner: planner,
		history: history,
		tx:      tx,
		log:     log.With().Str("component", "medication").Logger(),
	}
}

// Create persists a new medication and generates its first week of
// reminders in the same transaction.
func (s *Service) Create(ctx context.Context, accountID uuid.UUID, in CreateInput) (*Medication, error) {
	m, err := in.Medication(accountID)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, m); err != nil {
			return err
		}
		n, err := s.planner.Regenerate(ctx, m, createHorizonDays, false)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("medication_id", m.ID.String()).
			Str("frequency_type", string(m.FrequencyType)).
			Int("reminders", n).
			Msg("medication created")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, id, accountID uuid.UUID) (*Medication, error) {
	return s.repo.GetByIDForAccount(ctx, id, accountID)
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	return s.repo.ListByAccount(ctx, accountID, activeOnly, limit, offset)
}

func (s *Service) ListLowStock(ctx context.Context, accountID uuid.UUID) ([]*Medication, error) {
	return s.repo.ListLowStock(ctx, accountID)
}

// Update merges a partial update. When the change touches the schedule,
// the reminder plan is rebuilt with future pending rows cleared, in the
// same transaction as the row update.
func (s *Service) Update(ctx context.Context, id, accountID uuid.UUID, in UpdateInput) (*Medication, error) {
	m, err := s.repo.GetByIDForAccount(ctx, id, accountID)
	if err != nil {
		return nil, err
	}
	if err := m.ApplyUpdate(in); err != nil {
		return nil, err
	}

	if !in.TouchesSchedule() {
		if err := s.repo.Update(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, m); err != nil {
			return err
		}
		n, err := s.planner.Regenerate(ctx, m, updateHorizonDays, true)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("medication_id", m.ID.String()).
			Int("reminders", n).
			Msg("schedule changed, reminders regenerated")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AdjustStock applies a signed quantity change (refill or correction)
// and returns the updated medication.
func (s *Service) AdjustStock(ctx context.Context, id, accountID uuid.UUID, delta int, note string) (*Medication, error) {
	m, err := s.repo.AdjustStock(ctx, id, accountID, delta)
	if err != nil {
		return nil, err
	}
	evt := s.log.Info().
		Str("medication_id", id.String()).
		Int("delta", delta).
		Int("stock", m.CurrentStock)
	if note != "" {
		evt = evt.Str("note", note)
	}
	evt.Msg("stock adjusted")
	return m, nil
}

// GenerateReminders extends the reminder plan on demand without clearing
// anything already scheduled.
func (s *Service) GenerateReminders(ctx context.Context, id, accountID uuid.UUID, daysAhead int) (int, error) {
	m, err := s.repo.GetByIDForAccount(ctx, id, accountID)
	if err != nil {
		return 0, err
	}
	return s.planner.Regenerate(ctx, m, daysAhead, false)
}

// Delete removes a medication. Rows with recorded dose history are
// deactivated instead so the history keeps its reference; rows without
// history are hard-deleted and their reminders cascade.
func (s *Service) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	if _, err := s.repo.GetByIDForAccount(ctx, id, accountID); err != nil {
		return err
	}

	hasHistory, err := s.history.ExistsForMedication(ctx, id)
	if err != nil {
		return err
	}
	if hasHistory {
		if err := s.repo.Deactivate(ctx, id, accountID); err != nil {
			return err
		}
		s.log.Info().Str("medication_id", id.String()).Msg("medication deactivated, dose history retained")
		return nil
	}
	return s.repo.Delete(ctx, id, accountID)
}
