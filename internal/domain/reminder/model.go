package reminder

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("reminder not found")
	ErrTerminalState = errors.New("reminder already in a terminal state")
)

// Status is the reminder lifecycle state. sending is transient: the
// dispatcher claims pending rows into it while a notification is in flight,
// then settles them to sent or back to pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

var validStatuses = map[Status]bool{
	StatusPending: true,
	StatusSending: true,
	StatusSent:    true,
	StatusTaken:   true,
	StatusMissed:  true,
	StatusSkipped: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusMissed || s == StatusSkipped
}

// Reminder is one scheduled dose occurrence. ScheduledTime is always UTC at
// whole-second precision and unique per medication.
type Reminder struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	MedicationID  uuid.UUID  `db:"medication_id" json:"medication_id"`
	AccountID     uuid.UUID  `db:"account_id" json:"account_id"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Status        Status     `db:"status" json:"status"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	TakenAt       *time.Time `db:"taken_at" json:"taken_at,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Due is a claimed reminder joined with the medication fields the notifier
// needs to build the message.
type Due struct {
	Reminder
	MedicationName   string `json:"medication_name"`
	MedicationDosage string `json:"dosage"`
}

// ListFilter narrows account-scoped reminder listings.
type ListFilter struct {
	Status *Status
	From   *time.Time
	Until  *time.Time
}
