package medlog

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/platform/clock"
)

// defaultWindowDays is the adherence window when the caller gives none.
const defaultWindowDays = 30

// MedicationReader resolves the medication being logged for the ownership
// check and the name/dosage snapshots.
type MedicationReader interface {
	GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*medication.Medication, error)
}

type Service struct {
	repo  Repository
	meds  MedicationReader
	clock clock.Clock
	log   zerolog.Logger
}

func NewService(repo Repository, meds MedicationReader, c clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		meds:  meds,
		clock: c,
		log:   log.With().Str("component", "medlog").Logger(),
	}
}

// Log records an adherence event. The medication must belong to the
// account; its name and dosage are snapshotted into the entry, and the
// dosage taken defaults to the prescribed one.
func (s *Service) Log(ctx context.Context, accountID uuid.UUID, in CreateInput) (*Log, error) {
	if err := in.Validate(s.clock.Now()); err != nil {
		return nil, err
	}

	med, err := s.meds.GetByIDForAccount(ctx, in.MedicationID, accountID)
	if err != nil {
		if errors.Is(err, medication.ErrNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, err
	}

	dosageTaken := in.DosageTaken
	if dosageTaken == nil && med.Dosage != "" {
		d := med.Dosage
		dosageTaken = &d
	}

	entry := &Log{
		MedicationID:   med.ID,
		AccountID:      accountID,
		ReminderID:     in.ReminderID,
		MedicationName: med.Name,
		Dosage:         med.Dosage,
		Action:         in.Action,
		Source:         in.Source,
		TakenAt:        clock.Normalize(*in.TakenAt),
		DosageTaken:    dosageTaken,
		Notes:          in.Notes,
		SideEffects:    in.SideEffects,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Get(ctx context.Context, id, accountID uuid.UUID) (*Log, error) {
	return s.repo.GetByIDForAccount(ctx, id, accountID)
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Log, int, error) {
	return s.repo.ListByAccount(ctx, accountID, f, limit, offset)
}

// Void marks an entry as recorded in error. The reason, when given, is
// prefixed into the notes so the correction trail stays on the row.
func (s *Service) Void(ctx context.Context, id, accountID uuid.UUID, reason *string) (*Log, error) {
	entry, err := s.repo.GetByIDForAccount(ctx, id, accountID)
	if err != nil {
		return nil, err
	}
	if entry.Voided {
		return nil, ErrVoided
	}

	var notes *string
	if reason != nil && *reason != "" {
		n := "[VOIDED: " + *reason + "]"
		if entry.Notes != nil && *entry.Notes != "" {
			n += "\n" + *entry.Notes
		}
		notes = &n
	}

	voided, err := s.repo.Void(ctx, id, accountID, clock.Normalize(s.clock.Now()), notes)
	if err != nil {
		// The row matched a moment ago, so a concurrent void is the only
		// way it can stop matching.
		if errors.Is(err, ErrNotFound) {
			return nil, ErrVoided
		}
		return nil, err
	}
	s.log.Info().Str("log_id", id.String()).Msg("log entry voided")
	return voided, nil
}

// Adherence computes stats for the window, defaulting to the last 30 days,
// optionally narrowed to one medication.
func (s *Service) Adherence(ctx context.Context, accountID uuid.UUID, medicationID *uuid.UUID, from, until *time.Time) (*AdherenceStats, error) {
	start, end := s.window(from, until)
	counts, err := s.repo.CountByAction(ctx, accountID, medicationID, start, end)
	if err != nil {
		return nil, err
	}
	stats := computeStats(counts, start, end)
	return &stats, nil
}

// Report builds the overall stats plus a per-medication breakdown ordered
// worst adherence first.
func (s *Service) Report(ctx context.Context, accountID uuid.UUID, from, until *time.Time) (*AdherenceReport, error) {
	start, end := s.window(from, until)

	counts, err := s.repo.CountByAction(ctx, accountID, nil, start, end)
	if err != nil {
		return nil, err
	}
	report := &AdherenceReport{
		AccountID:    accountID,
		Overall:      computeStats(counts, start, end),
		ByMedication: []MedicationAdherence{},
	}

	refs, err := s.repo.DistinctMedications(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		medID := ref.ID
		counts, err := s.repo.CountByAction(ctx, accountID, &medID, start, end)
		if err != nil {
			return nil, err
		}
		report.ByMedication = append(report.ByMedication, MedicationAdherence{
			MedicationID:   ref.ID,
			MedicationName: ref.Name,
			Stats:          computeStats(counts, start, end),
		})
	}
	sort.SliceStable(report.ByMedication, func(i, j int) bool {
		return report.ByMedication[i].Stats.AdherenceRate < report.ByMedication[j].Stats.AdherenceRate
	})
	return report, nil
}

// RecentSummary rolls up activity over the last days days (default 7).
func (s *Service) RecentSummary(ctx context.Context, accountID uuid.UUID, days int) (*Summary, error) {
	if days <= 0 {
		days = 7
	}
	since := clock.Normalize(s.clock.Now()).AddDate(0, 0, -days)
	summary, err := s.repo.Summary(ctx, accountID, since)
	if err != nil {
		return nil, err
	}
	summary.PeriodDays = days
	return summary, nil
}

// ExistsForMedication reports whether the medication has any history. The
// medication service consults this to choose between hard delete and
// deactivation.
func (s *Service) ExistsForMedication(ctx context.Context, medicationID uuid.UUID) (bool, error) {
	return s.repo.ExistsForMedication(ctx, medicationID)
}

func (s *Service) window(from, until *time.Time) (time.Time, time.Time) {
	end := clock.Normalize(s.clock.Now())
	if until != nil {
		end = clock.Normalize(*until)
	}
	start := end.AddDate(0, 0, -defaultWindowDays)
	if from != nil {
		start = clock.Normalize(*from)
	}
	return start, end
}

// computeStats turns grouped counts into the stats row. Skips are
// intentional, so they appear in the totals but not in the rate.
func computeStats(counts map[Action]int, start, end time.Time) AdherenceStats {
	taken := counts[ActionTaken]
	skipped := counts[ActionSkipped]
	missed := counts[ActionMissed]

	stats := AdherenceStats{
		TotalLogs:    taken + skipped + missed,
		TakenCount:   taken,
		SkippedCount: skipped,
		MissedCount:  missed,
		PeriodStart:  start,
		PeriodEnd:    end,
	}
	if denom := taken + missed; denom > 0 {
		stats.AdherenceRate = math.Round(float64(taken)/float64(denom)*10000) / 100
	}
	return stats
}
