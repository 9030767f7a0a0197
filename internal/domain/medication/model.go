package medication

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediremind/mediremind/internal/platform/clock"
)

var (
	// ErrNotFound is returned when a medication does not exist or belongs
	// to a different account.
	ErrNotFound = errors.New("medication not found")
	// ErrInvalid wraps validation failures on create and update input.
	ErrInvalid = errors.New("invalid medication")
	// ErrInsufficientStock is returned when a stock adjustment would take
	// the count below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// FrequencyType says how often a medication is taken.
type FrequencyType string

const (
	FreqOnceDaily       FrequencyType = "once_daily"
	FreqTwiceDaily      FrequencyType = "twice_daily"
	FreqThreeTimesDaily FrequencyType = "three_times_daily"
	FreqFourTimesDaily  FrequencyType = "four_times_daily"
	FreqEveryXHours     FrequencyType = "every_x_hours"
	FreqAsNeeded        FrequencyType = "as_needed"
	FreqCustom          FrequencyType = "custom"
)

var validFrequencyTypes = map[FrequencyType]bool{
	FreqOnceDaily: true, FreqTwiceDaily: true, FreqThreeTimesDaily: true,
	FreqFourTimesDaily: true, FreqEveryXHours: true, FreqAsNeeded: true,
	FreqCustom: true,
}

// presetTimes are the dose times used by the daily presets when the
// account has not picked its own.
var presetTimes = map[FrequencyType][]string{
	FreqOnceDaily:       {"08:00:00"},
	FreqTwiceDaily:      {"08:00:00", "20:00:00"},
	FreqThreeTimesDaily: {"08:00:00", "14:00:00", "20:00:00"},
	FreqFourTimesDaily:  {"06:00:00", "12:00:00", "18:00:00", "22:00:00"},
}

// Medication maps to the medications table: one dosing plan owned by one
// account. The schedule is stored as UTC instants plus the IANA zone the
// wall-clock dose times are interpreted in.
type Medication struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	AccountID           uuid.UUID     `db:"account_id" json:"account_id"`
	Name                string        `db:"name" json:"name"`
	Dosage              string        `db:"dosage" json:"dosage"`
	Form                *string       `db:"form" json:"form,omitempty"`
	Color               *string       `db:"color" json:"color,omitempty"`
	AdministrationRoute *string       `db:"administration_route" json:"administration_route,omitempty"`
	Instructions        *string       `db:"instructions" json:"instructions,omitempty"`
	FrequencyType       FrequencyType `db:"frequency_type" json:"frequency_type"`
	FrequencyValue      *int          `db:"frequency_value" json:"frequency_value,omitempty"`
	ReminderTimes       []string      `db:"reminder_times" json:"reminder_times,omitempty"`
	Timezone            string        `db:"timezone" json:"timezone"`
	StartDatetime       time.Time     `db:"start_datetime" json:"start_datetime"`
	EndDatetime         *time.Time    `db:"end_datetime" json:"end_datetime,omitempty"`
	CurrentStock        int           `db:"current_stock" json:"current_stock"`
	LowStockThreshold   int           `db:"low_stock_threshold" json:"low_stock_threshold"`
	IsActive            bool          `db:"is_active" json:"is_active"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// TimeOfDay is a wall-clock time with no date or zone attached.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: unparseable time of day %q", ErrInvalid, s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// DoseRule is the normalized dosing rule a reminder plan expands from.
// Exactly one variant applies to a medication at a time.
type DoseRule interface{ isDoseRule() }

// DailyTimes repeats a fixed set of wall-clock times every day in the
// medication's timezone.
type DailyTimes struct{ Times []string }

// Interval repeats every fixed number of hours from the start instant.
type Interval struct{ Hours int }

// AsNeeded has no schedule; nothing is generated for it.
type AsNeeded struct{}

func (DailyTimes) isDoseRule() {}
func (Interval) isDoseRule()   {}
func (AsNeeded) isDoseRule()   {}

// DoseRule folds the frequency columns into a single rule value. Daily
// presets without explicit times fall back to the built-in defaults; an
// every-X-hours row missing its hour count degrades to AsNeeded rather
// than guessing an interval.
func (m *Medication) DoseRule() DoseRule {
	switch m.FrequencyType {
	case FreqEveryXHours:
		if m.FrequencyValue == nil || *m.FrequencyValue < 1 {
			return AsNeeded{}
		}
		return Interval{Hours: *m.FrequencyValue}
	case FreqCustom:
		return DailyTimes{Times: m.ReminderTimes}
	case FreqOnceDaily, FreqTwiceDaily, FreqThreeTimesDaily, FreqFourTimesDaily:
		if len(m.ReminderTimes) > 0 {
			return DailyTimes{Times: m.ReminderTimes}
		}
		return DailyTimes{Times: presetTimes[m.FrequencyType]}
	default:
		return AsNeeded{}
	}
}

// Location resolves the medication's timezone, falling back to UTC when
// the stored name no longer loads.
func (m *Medication) Location() *time.Location {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsLowStock reports whether the stock count has reached the threshold.
func (m *Medication) IsLowStock() bool {
	return m.CurrentStock <= m.LowStockThreshold
}

// Validate checks cross-field rules and normalizes the frequency columns
// so only the fields the chosen kind uses stay populated.
func (m *Medication) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(m.Dosage) == "" {
		return fmt.Errorf("%w: dosage is required", ErrInvalid)
	}
	if !validFrequencyTypes[m.FrequencyType] {
		return fmt.Errorf("%w: unknown frequency_type %q", ErrInvalid, m.FrequencyType)
	}

	switch m.FrequencyType {
	case FreqEveryXHours:
		if m.FrequencyValue == nil {
			return fmt.Errorf("%w: frequency_value is required for every_x_hours", ErrInvalid)
		}
		if *m.FrequencyValue < 1 || *m.FrequencyValue > 24 {
			return fmt.Errorf("%w: frequency_value must be between 1 and 24", ErrInvalid)
		}
		m.ReminderTimes = nil
	case FreqCustom:
		if len(m.ReminderTimes) == 0 {
			return fmt.Errorf("%w: reminder_times is required for custom frequency", ErrInvalid)
		}
		m.FrequencyValue = nil
	default:
		m.FrequencyValue = nil
	}

	for i, entry := range m.ReminderTimes {
		tod, err := ParseTimeOfDay(entry)
		if err != nil {
			return err
		}
		m.ReminderTimes[i] = tod.String()
	}

	if m.Timezone == "" {
		m.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, m.Timezone)
	}

	m.StartDatetime = clock.Normalize(m.StartDatetime)
	if m.EndDatetime != nil {
		end := clock.Normalize(*m.EndDatetime)
		m.EndDatetime = &end
		if !end.After(m.StartDatetime) {
			return fmt.Errorf("%w: end must be after start", ErrInvalid)
		}
	}

	if m.CurrentStock < 0 {
		return fmt.Errorf("%w: current_stock must not be negative", ErrInvalid)
	}
	if m.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low_stock_threshold must not be negative", ErrInvalid)
	}
	return nil
}

const dateLayout = "2006-01-02"

// CombineLocal interprets a calendar date and wall-clock time in loc and
// returns the equivalent UTC instant.
func CombineLocal(year int, month time.Month, day int, tod TimeOfDay, loc *time.Location) time.Time {
	return clock.Normalize(time.Date(year, month, day, tod.Hour, tod.Minute, tod.Second, 0, loc))
}

// CreateInput is the request body for registering a medication. The
// schedule arrives as a local date, wall-clock time and zone, and is
// stored as UTC instants.
type CreateInput struct {
	Name                string        `json:"name"`
	Dosage              string        `json:"dosage"`
	Form                *string       `json:"form,omitempty"`
	Color               *string       `json:"color,omitempty"`
	AdministrationRoute *string       `json:"administration_route,omitempty"`
	Instructions        *string       `json:"instructions,omitempty"`
	FrequencyType       FrequencyType `json:"frequency_type"`
	FrequencyValue      *int          `json:"frequency_value,omitempty"`
	ReminderTimes       []string      `json:"reminder_times,omitempty"`
	Timezone            string        `json:"timezone"`
	StartDate           string        `json:"start_date"`
	StartTime           string        `json:"start_time"`
	EndDate             string        `json:"end_date,omitempty"`
	EndTime             string        `json:"end_time,omitempty"`
	CurrentStock        int           `json:"current_stock"`
	LowStockThreshold   *int          `json:"low_stock_threshold,omitempty"`
}

// Medication assembles the stored model, converting the local schedule to
// UTC. The end time defaults to 23:59:59 local so "ends on the 10th"
// covers the whole final day.
func (in CreateInput) Medication(accountID uuid.UUID) (*Medication, error) {
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalid, tz)
	}

	startDay, err := time.Parse(dateLayout, in.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable start_date %q", ErrInvalid, in.StartDate)
	}
	startTod, err := ParseTimeOfDay(in.StartTime)
	if err != nil {
		return nil, err
	}

	m := &Medication{
		AccountID:           accountID,
		Name:                strings.TrimSpace(in.Name),
		Dosage:              strings.TrimSpace(in.Dosage),
		Form:                in.Form,
		Color:               in.Color,
		AdministrationRoute: in.AdministrationRoute,
		Instructions:        in.Instructions,
		FrequencyType:       in.FrequencyType,
		FrequencyValue:      in.FrequencyValue,
		ReminderTimes:       in.ReminderTimes,
		Timezone:            tz,
		StartDatetime:       CombineLocal(startDay.Year(), startDay.Month(), startDay.Day(), startTod, loc),
		CurrentStock:        in.CurrentStock,
		LowStockThreshold:   5,
		IsActive:            true,
	}
	if in.LowStockThreshold != nil {
		m.LowStockThreshold = *in.LowStockThreshold
	}

	if in.EndDate != "" {
		endDay, err := time.Parse(dateLayout, in.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable end_date %q", ErrInvalid, in.EndDate)
		}
		endTod := TimeOfDay{Hour: 23, Minute: 59, Second: 59}
		if in.EndTime != "" {
			if endTod, err = ParseTimeOfDay(in.EndTime); err != nil {
				return nil, err
			}
		}
		end := CombineLocal(endDay.Year(), endDay.Month(), endDay.Day(), endTod, loc)
		m.EndDatetime = &end
	}

	return m, m.Validate()
}

// UpdateInput is a partial medication update. Nil fields are left alone.
// Date and time fields merge against the current local schedule, so a new
// start_date keeps the existing start_time and vice versa. An empty
// end_date string clears the end of the schedule.
type UpdateInput struct {
	Name                *string        `json:"name"`
	Dosage              *string        `json:"dosage"`
	Form                *string        `json:"form"`
	Color               *string        `json:"color"`
	AdministrationRoute *string        `json:"administration_route"`
	Instructions        *string        `json:"instructions"`
	FrequencyType       *FrequencyType `json:"frequency_type"`
	FrequencyValue      *int           `json:"frequency_value"`
	ReminderTimes       []string       `json:"reminder_times"`
	StartDate           *string        `json:"start_date"`
	StartTime           *string        `json:"start_time"`
	EndDate             *string        `json:"end_date"`
	EndTime             *string        `json:"end_time"`
	Timezone            *string        `json:"timezone"`
	CurrentStock        *int           `json:"current_stock"`
	LowStockThreshold   *int           `json:"low_stock_threshold"`
	IsActive            *bool          `json:"is_active"`
}

// TouchesSchedule reports whether the update changes anything the
// reminder plan is derived from.
func (in UpdateInput) TouchesSchedule() bool {
	return in.FrequencyType != nil || in.FrequencyValue != nil || in.ReminderTimes != nil ||
		in.StartDate != nil || in.StartTime != nil || in.EndDate != nil || in.EndTime != nil ||
		in.Timezone != nil
}

// ApplyUpdate merges the partial update into the medication and
// revalidates. Schedule fields are resolved in local time first so that
// changing one component (say the date) preserves the others.
func (m *Medication) ApplyUpdate(in UpdateInput) error {
	if in.StartDate != nil || in.StartTime != nil || in.Timezone != nil {
		curLocal := m.StartDatetime.In(m.Location())

		tz := m.Timezone
		if in.Timezone != nil {
			tz = *in.Timezone
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, tz)
		}

		year, month, day := curLocal.Date()
		if in.StartDate != nil {
			d, err := time.Parse(dateLayout, *in.StartDate)
			if err != nil {
				return fmt.Errorf("%w: unparseable start_date %q", ErrInvalid, *in.StartDate)
			}
			year, month, day = d.Date()
		}
		tod := TimeOfDay{Hour: curLocal.Hour(), Minute: curLocal.Minute(), Second: curLocal.Second()}
		if in.StartTime != nil {
			if tod, err = ParseTimeOfDay(*in.StartTime); err != nil {
				return err
			}
		}

		m.StartDatetime = CombineLocal(year, month, day, tod, loc)
		m.Timezone = tz
	}

	if in.EndDate != nil || in.EndTime != nil {
		loc := m.Location()

		switch {
		case in.EndDate != nil && *in.EndDate == "":
			m.EndDatetime = nil
		case in.EndDate != nil:
			d, err := time.Parse(dateLayout, *in.EndDate)
			if err != nil {
				return fmt.Errorf("%w: unparseable end_date %q", ErrInvalid, *in.EndDate)
			}
			tod := TimeOfDay{Hour: 23, Minute: 59, Second: 59}
			if m.EndDatetime != nil {
				endLocal := m.EndDatetime.In(loc)
				tod = TimeOfDay{Hour: endLocal.Hour(), Minute: endLocal.Minute(), Second: endLocal.Second()}
			}
			if in.EndTime != nil {
				if tod, err = ParseTimeOfDay(*in.EndTime); err != nil {
					return err
				}
			}
			end := CombineLocal(d.Year(), d.Month(), d.Day(), tod, loc)
			m.EndDatetime = &end
		case m.EndDatetime != nil:
			// Only the end time changed; keep the end date.
			endLocal := m.EndDatetime.In(loc)
			tod, err := ParseTimeOfDay(*in.EndTime)
			if err != nil {
				return err
			}
			end := CombineLocal(endLocal.Year(), endLocal.Month(), endLocal.Day(), tod, loc)
			m.EndDatetime = &end
		}
	}

	if in.Name != nil {
		m.Name = strings.TrimSpace(*in.Name)
	}
	if in.Dosage != nil {
		m.Dosage = strings.TrimSpace(*in.Dosage)
	}
	if in.Form != nil {
		m.Form = in.Form
	}
	if in.Color != nil {
		m.Color = in.Color
	}
	if in.AdministrationRoute != nil {
		m.AdministrationRoute = in.AdministrationRoute
	}
	if in.Instructions != nil {
		m.Instructions = in.Instructions
	}
	if in.FrequencyType != nil {
		m.FrequencyType = *in.FrequencyType
	}
	if in.FrequencyValue != nil {
		m.FrequencyValue = in.FrequencyValue
	}
	if in.ReminderTimes != nil {
		m.ReminderTimes = in.ReminderTimes
	}
	if in.CurrentStock != nil {
		m.CurrentStock = *in.CurrentStock
	}
	if in.LowStockThreshold != nil {
		m.LowStockThreshold = *in.LowStockThreshold
	}
	if in.IsActive != nil {
		m.IsActive = *in.IsActive
	}

	return m.Validate()
}
