package clock

import "time"

// Normalize converts t to UTC and truncates it to whole seconds. Every
// scheduled-time instant in the system passes through here before it is
// stored or compared, so equality never diverges on sub-second noise or
// zone representation.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Clock supplies the current time. Components that schedule or expire work
// take a Clock so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// System is the real clock, reporting UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock frozen at one instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// Window is a closed interval of normalized instants. Both boundaries are
// inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// GenerationWindow computes the interval reminders are generated for: from
// now or the medication start, whichever is later, through now plus daysAhead
// days, clipped to the medication end when one is set. Reports false when the
// medication has already ended or the clipped interval is empty.
func GenerationWindow(now time.Time, daysAhead int, medStart time.Time, medEnd *time.Time) (Window, bool) {
	now = Normalize(now)

	start := Normalize(medStart)
	if start.Before(now) {
		start = now
	}

	end := now.Add(time.Duration(daysAhead) * 24 * time.Hour)
	if medEnd != nil {
		e := Normalize(*medEnd)
		if !e.After(now) {
			return Window{}, false
		}
		if e.Before(end) {
			end = e
		}
	}

	if end.Before(start) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}
