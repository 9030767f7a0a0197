package reminder

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/platform/clock"
)

// Expander turns a medication's dose rule into concrete UTC instants inside
// a generation window. It is pure: no clock reads, no persistence. The
// caller supplies the clipped window and the set of instants already stored
// for the medication; anything in that set is not emitted again.
type Expander struct {
	log zerolog.Logger
}

func NewExpander(log zerolog.Logger) *Expander {
	return &Expander{log: log.With().Str("component", "expander").Logger()}
}

// Expand returns the candidate instants for med inside w, normalized and
// ordered, omitting members of existing. Both window boundaries are
// inclusive.
func (e *Expander) Expand(med *medication.Medication, w clock.Window, existing map[time.Time]struct{}) []time.Time {
	seen := make(map[time.Time]struct{}, len(existing))
	for t := range existing {
		seen[clock.Normalize(t)] = struct{}{}
	}

	switch rule := med.DoseRule().(type) {
	case medication.DailyTimes:
		return e.expandDaily(med, rule, w, seen)
	case medication.Interval:
		return e.expandInterval(med, rule, w, seen)
	default:
		return nil
	}
}

// expandDaily walks each local calendar date in the window and projects the
// configured times of day through the medication's zone, so a dose pinned to
// "08:00 local" keeps its wall-clock time across daylight-saving shifts.
func (e *Expander) expandDaily(med *medication.Medication, rule medication.DailyTimes, w clock.Window, seen map[time.Time]struct{}) []time.Time {
	loc, err := time.LoadLocation(med.Timezone)
	if err != nil {
		e.log.Warn().
			Str("medication_id", med.ID.String()).
			Str("timezone", med.Timezone).
			Msg("unknown timezone, using UTC")
		loc = time.UTC
	}

	tods := make([]medication.TimeOfDay, 0, len(rule.Times))
	for _, entry := range rule.Times {
		tod, err := medication.ParseTimeOfDay(entry)
		if err != nil {
			e.log.Warn().
				Str("medication_id", med.ID.String()).
				Str("entry", entry).
				Msg("skipping malformed reminder time")
			continue
		}
		tods = append(tods, tod)
	}
	if len(tods) == 0 {
		return nil
	}

	startY, startM, startD := w.Start.In(loc).Date()
	endY, endM, endD := w.End.In(loc).Date()

	// Day counter in UTC so the iteration itself is immune to short and
	// long local days around DST transitions.
	day := time.Date(startY, startM, startD, 0, 0, 0, 0, time.UTC)
	lastDay := time.Date(endY, endM, endD, 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for !day.After(lastDay) {
		y, m, d := day.Date()
		for _, tod := range tods {
			candidate := medication.CombineLocal(y, m, d, tod, loc)
			if !w.Contains(candidate) {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			out = append(out, candidate)
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// expandInterval emits the fixed grid anchored at the medication start. The
// anchor is fast-forwarded by whole intervals so the grid never drifts
// between regeneration passes.
func (e *Expander) expandInterval(med *medication.Medication, rule medication.Interval, w clock.Window, seen map[time.Time]struct{}) []time.Time {
	interval := time.Duration(rule.Hours) * time.Hour
	anchor := clock.Normalize(med.StartDatetime)

	current := anchor
	if current.Before(w.Start) {
		steps := w.Start.Sub(anchor) / interval
		current = anchor.Add(steps * interval)
		if current.Before(w.Start) {
			current = current.Add(interval)
		}
	}

	var out []time.Time
	for !current.After(w.End) {
		if _, dup := seen[current]; !dup {
			seen[current] = struct{}{}
			out = append(out, current)
		}
		current = current.Add(interval)
	}
	return out
}
