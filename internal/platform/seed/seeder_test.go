package seed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/domain/medlog"
)

func TestGenerator_Reproducible(t *testing.T) {
	g1 := newGenerator(42)
	g2 := newGenerator(42)

	if g1.id() != g2.id() {
		t.Error("expected same seed to produce same account ids")
	}
	if g1.pick(firstNames) != g2.pick(firstNames) {
		t.Error("expected same seed to produce same name picks")
	}

	c1 := g1.cabinet(5)
	c2 := g2.cabinet(5)
	for i := range c1 {
		if c1[i].name != c2[i].name {
			t.Errorf("cabinet entry %d: %s != %s", i, c1[i].name, c2[i].name)
		}
	}
}

func TestGenerator_IDShape(t *testing.T) {
	g := newGenerator(1)
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 100; i++ {
		id := g.id()
		if id.Version() != 4 {
			t.Fatalf("expected version 4 uuid, got version %d", id.Version())
		}
		if id.Variant() != uuid.RFC4122 {
			t.Fatalf("expected RFC 4122 variant, got %v", id.Variant())
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestGenerator_CabinetDistinct(t *testing.T) {
	g := newGenerator(7)

	cab := g.cabinet(len(medicationDefs) + 10)
	if len(cab) != len(medicationDefs) {
		t.Errorf("expected cabinet capped at %d, got %d", len(medicationDefs), len(cab))
	}

	seen := make(map[string]bool)
	for _, def := range cab {
		if seen[def.name] {
			t.Errorf("duplicate cabinet entry %s", def.name)
		}
		seen[def.name] = true
	}
}

// Every formulary entry must survive the medication create validation in
// every timezone the seeder can pick.
func TestFormulary_ProducesValidCreateInput(t *testing.T) {
	g := newGenerator(3)
	startDay := time.Now().AddDate(0, 0, -14)
	accountID := uuid.New()

	for _, tz := range timezones {
		for _, def := range medicationDefs {
			in := g.medicationInput(def, tz, startDay)
			if _, err := in.Medication(accountID); err != nil {
				t.Errorf("%s in %s: %v", def.name, tz, err)
			}
		}
	}
}

func TestLogEntry_RollsValidEntries(t *testing.T) {
	g := newGenerator(11)
	medicationID := uuid.New()
	scheduled := time.Now().Add(-48 * time.Hour)
	now := time.Now()

	actions := make(map[medlog.Action]int)
	for i := 0; i < 1000; i++ {
		in := g.logEntry(medicationID, scheduled)
		if err := in.Validate(now); err != nil {
			t.Fatalf("roll %d: %v", i, err)
		}
		if in.TakenAt.Before(scheduled) {
			t.Fatalf("roll %d: taken_at %v before scheduled %v", i, in.TakenAt, scheduled)
		}
		if in.Action == medlog.ActionSkipped && in.Notes == nil {
			t.Fatalf("roll %d: skipped entry without a note", i)
		}
		actions[in.Action]++
	}

	for _, a := range []medlog.Action{medlog.ActionTaken, medlog.ActionSkipped, medlog.ActionMissed} {
		if actions[a] == 0 {
			t.Errorf("expected some %s entries over 1000 rolls", a)
		}
	}
	if actions[medlog.ActionTaken] < actions[medlog.ActionSkipped] {
		t.Error("expected taken to dominate the distribution")
	}
}

func newTestSeeder(cfg Config) *Seeder {
	return New(cfg, nil, nil, nil, zerolog.Nop())
}

func TestDoseInstants_DailyGrid(t *testing.T) {
	s := newTestSeeder(Config{HistoryDays: 3, Seed: 1})

	med := &medication.Medication{
		ID:            uuid.New(),
		FrequencyType: medication.FreqTwiceDaily,
		Timezone:      "UTC",
		StartDatetime: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
	cutoff := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)

	instants := s.doseInstants(med, cutoff)

	// 08:00 and 20:00 on Jan 1-3, then only 08:00 on Jan 4.
	if len(instants) != 7 {
		t.Fatalf("expected 7 instants, got %d: %v", len(instants), instants)
	}
	for i, at := range instants {
		if at.Before(med.StartDatetime) || !at.Before(cutoff) {
			t.Errorf("instant %v outside [start, cutoff)", at)
		}
		if i > 0 && !instants[i-1].Before(at) {
			t.Errorf("instants not ascending at %d: %v then %v", i, instants[i-1], at)
		}
	}
}

func TestDoseInstants_IntervalSpacing(t *testing.T) {
	s := newTestSeeder(Config{HistoryDays: 1, Seed: 1})

	every := 6
	med := &medication.Medication{
		ID:             uuid.New(),
		FrequencyType:  medication.FreqEveryXHours,
		FrequencyValue: &every,
		Timezone:       "UTC",
		StartDatetime:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	instants := s.doseInstants(med, cutoff)
	if len(instants) != 4 {
		t.Fatalf("expected 4 instants, got %d: %v", len(instants), instants)
	}
	for i := 1; i < len(instants); i++ {
		if got := instants[i].Sub(instants[i-1]); got != 6*time.Hour {
			t.Errorf("expected 6h spacing, got %v", got)
		}
	}
}

func TestDoseInstants_AsNeededBounded(t *testing.T) {
	s := newTestSeeder(Config{HistoryDays: 14, Seed: 5})

	med := &medication.Medication{
		ID:            uuid.New(),
		FrequencyType: medication.FreqAsNeeded,
		Timezone:      "UTC",
		StartDatetime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	cutoff := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)

	instants := s.doseInstants(med, cutoff)
	if len(instants) > 15 {
		t.Errorf("expected at most one dose per history day, got %d", len(instants))
	}
	for _, at := range instants {
		if at.Before(med.StartDatetime) || !at.Before(cutoff) {
			t.Errorf("instant %v outside [start, cutoff)", at)
		}
	}
}
