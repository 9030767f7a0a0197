package medlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("log entry not found")
	// ErrVoided is returned when a correction targets an entry that was
	// already voided.
	ErrVoided = errors.New("log entry already voided")
	// ErrMedicationNotFound is returned when the logged medication does not
	// exist or belongs to another account.
	ErrMedicationNotFound = errors.New("medication not found")
	ErrInvalid            = errors.New("invalid log entry")
)

// Action is what actually happened with the dose.
type Action string

const (
	ActionTaken   Action = "taken"
	ActionSkipped Action = "skipped"
	ActionMissed  Action = "missed"
)

func (a Action) Valid() bool {
	return a == ActionTaken || a == ActionSkipped || a == ActionMissed
}

// Source records whether the entry came from a reminder transition or was
// logged by hand.
type Source string

const (
	SourceReminder Source = "reminder"
	SourceManual   Source = "manual"
)

func (s Source) Valid() bool {
	return s == SourceReminder || s == SourceManual
}

// Log is one adherence record. Entries are immutable by intent: corrections
// void the entry rather than editing it, and the medication name and dosage
// are captured at write time so later medication edits never rewrite
// history.
type Log struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	MedicationID   uuid.UUID  `db:"medication_id" json:"medication_id"`
	AccountID      uuid.UUID  `db:"account_id" json:"account_id"`
	ReminderID     *uuid.UUID `db:"reminder_id" json:"reminder_id,omitempty"`
	MedicationName string     `db:"medication_name" json:"medication_name"`
	Dosage         string     `db:"dosage" json:"dosage"`
	Action         Action     `db:"action" json:"action"`
	Source         Source     `db:"source" json:"source"`
	TakenAt        time.Time  `db:"taken_at" json:"taken_at"`
	DosageTaken    *string    `db:"dosage_taken" json:"dosage_taken,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	SideEffects    *string    `db:"side_effects" json:"side_effects,omitempty"`
	Voided         bool       `db:"voided" json:"voided"`
	VoidedAt       *time.Time `db:"voided_at" json:"voided_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

const (
	maxNoteLen   = 5000
	maxDosageLen = 100

	// takenAtLeeway absorbs client clock skew when rejecting future
	// timestamps.
	takenAtLeeway = 5 * time.Minute
)

// CreateInput is the payload for recording an adherence event.
type CreateInput struct {
	MedicationID uuid.UUID  `json:"medication_id"`
	ReminderID   *uuid.UUID `json:"reminder_id"`
	Action       Action     `json:"action"`
	Source       Source     `json:"source"`
	TakenAt      *time.Time `json:"taken_at"`
	DosageTaken  *string    `json:"dosage_taken"`
	Notes        *string    `json:"notes"`
	SideEffects  *string    `json:"side_effects"`
}

// Validate fills defaults (action taken, source manual, taken-at now) and
// rejects unknown enums, future timestamps, and oversized text fields.
func (in *CreateInput) Validate(now time.Time) error {
	if in.MedicationID == uuid.Nil {
		return fmt.Errorf("%w: medication_id is required", ErrInvalid)
	}
	if in.Action == "" {
		in.Action = ActionTaken
	}
	if !in.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalid, in.Action)
	}
	if in.Source == "" {
		in.Source = SourceManual
	}
	if !in.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, in.Source)
	}
	if in.TakenAt == nil {
		t := now
		in.TakenAt = &t
	} else if in.TakenAt.After(now.Add(takenAtLeeway)) {
		return fmt.Errorf("%w: taken_at cannot be in the future", ErrInvalid)
	}
	if in.DosageTaken != nil && len(*in.DosageTaken) > maxDosageLen {
		return fmt.Errorf("%w: dosage_taken exceeds %d characters", ErrInvalid, maxDosageLen)
	}
	if in.Notes != nil && len(*in.Notes) > maxNoteLen {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalid, maxNoteLen)
	}
	if in.SideEffects != nil && len(*in.SideEffects) > maxNoteLen {
		return fmt.Errorf("%w: side_effects exceed %d characters", ErrInvalid, maxNoteLen)
	}
	return nil
}

// ListFilter narrows account-scoped log listings. Voided entries are hidden
// unless explicitly requested.
type ListFilter struct {
	MedicationID  *uuid.UUID
	Action        *Action
	From          *time.Time
	Until         *time.Time
	IncludeVoided bool
}

// AdherenceStats summarizes one account-and-window slice of the history.
// Skips are intentional, so the rate only weighs taken against missed.
type AdherenceStats struct {
	TotalLogs     int       `json:"total_logs"`
	TakenCount    int       `json:"taken_count"`
	SkippedCount  int       `json:"skipped_count"`
	MissedCount   int       `json:"missed_count"`
	AdherenceRate float64   `json:"adherence_rate"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

// MedicationRef is a distinct medication seen in the history window, named
// by its snapshot.
type MedicationRef struct {
	ID   uuid.UUID `json:"medication_id"`
	Name string    `json:"medication_name"`
}

// MedicationAdherence pairs one medication with its stats.
type MedicationAdherence struct {
	MedicationID   uuid.UUID      `json:"medication_id"`
	MedicationName string         `json:"medication_name"`
	Stats          AdherenceStats `json:"stats"`
}

// AdherenceReport is the overall picture plus the per-medication breakdown,
// ordered worst adherence first.
type AdherenceReport struct {
	AccountID    uuid.UUID             `json:"account_id"`
	Overall      AdherenceStats        `json:"overall_stats"`
	ByMedication []MedicationAdherence `json:"by_medication"`
}

// Summary is the recent-activity rollup.
type Summary struct {
	TotalLogs         int        `json:"total_logs"`
	UniqueMedications int        `json:"unique_medications"`
	LastLogAt         *time.Time `json:"last_log_at,omitempty"`
	PeriodDays        int        `json:"period_days"`
}
