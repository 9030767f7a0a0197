// Package seed populates a development database with demo data: accounts
// with realistic medication cabinets, the upcoming reminders for them, and
// a few weeks of adherence history. Runs with the same seed produce the
// same accounts and cabinets, which keeps local databases comparable
// across a team.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/domain/medlog"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config controls the volume of generated demo data.
type Config struct {
	Accounts              int
	MedicationsPerAccount int
	// HistoryDays is how far back the adherence backfill reaches. The
	// medication schedules start that many days in the past.
	HistoryDays int
	// Seed fixes the random source so repeated runs produce the same
	// accounts and cabinets. Zero picks a time-based seed.
	Seed int64
}

// DefaultConfig returns the volumes used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Accounts:              3,
		MedicationsPerAccount: 4,
		HistoryDays:           14,
	}
}

// Result summarizes one seed run.
type Result struct {
	Accounts    int
	Medications int
	Reminders   int
	Logs        int
	Duration    time.Duration
}

// ---------------------------------------------------------------------------
// Data pools
// ---------------------------------------------------------------------------

// medicationDef is one entry in the demo formulary. Exactly one of
// everyHours and times is set for the non-preset frequencies.
type medicationDef struct {
	name         string
	dosage       string
	form         string
	color        string
	route        string
	instructions string
	frequency    medication.FrequencyType
	everyHours   int
	times        []string
}

var (
	firstNames = []string{
		"Amara", "Ben", "Chidi", "Dana", "Efe", "Folake", "Grace", "Hassan",
		"Ines", "Jonas", "Kemi", "Lena", "Marcus", "Ngozi", "Olu", "Priya",
		"Quinn", "Rosa", "Tunde", "Vera",
	}
	lastNames = []string{
		"Adeyemi", "Brooks", "Chen", "Diallo", "Eze", "Fischer", "Garcia",
		"Hughes", "Ibrahim", "Johnson", "Lawal", "Mensah", "Novak", "Okafor",
		"Patel", "Reyes", "Silva", "Torres", "Umar", "Weber",
	}

	timezones = []string{
		"Africa/Lagos", "America/New_York", "America/Chicago",
		"America/Los_Angeles", "Europe/London", "Europe/Berlin",
		"Asia/Kolkata", "Australia/Sydney",
	}

	medicationDefs = []medicationDef{
		{name: "Metformin", dosage: "500mg", form: "tablet", color: "white", route: "oral",
			instructions: "Take with meals", frequency: medication.FreqTwiceDaily},
		{name: "Lisinopril", dosage: "10mg", form: "tablet", color: "pink", route: "oral",
			instructions: "Take at the same time each morning", frequency: medication.FreqOnceDaily},
		{name: "Atorvastatin", dosage: "20mg", form: "tablet", color: "white", route: "oral",
			instructions: "Take in the evening", frequency: medication.FreqCustom, times: []string{"21:00"}},
		{name: "Omeprazole", dosage: "20mg", form: "capsule", color: "purple", route: "oral",
			instructions: "Take 30 minutes before breakfast", frequency: medication.FreqCustom, times: []string{"07:30"}},
		{name: "Amoxicillin", dosage: "500mg", form: "capsule", color: "red and yellow", route: "oral",
			instructions: "Finish the full course", frequency: medication.FreqEveryXHours, everyHours: 8},
		{name: "Levothyroxine", dosage: "50mcg", form: "tablet", color: "white", route: "oral",
			instructions: "Take on an empty stomach", frequency: medication.FreqCustom, times: []string{"06:30"}},
		{name: "Amlodipine", dosage: "5mg", form: "tablet", color: "white", route: "oral",
			frequency: medication.FreqOnceDaily},
		{name: "Sertraline", dosage: "50mg", form: "tablet", color: "blue", route: "oral",
			instructions: "May take a few weeks to take effect", frequency: medication.FreqOnceDaily},
		{name: "Albuterol", dosage: "90mcg", form: "inhaler", route: "inhalation",
			instructions: "Two puffs as needed for wheezing", frequency: medication.FreqAsNeeded},
		{name: "Vitamin D3", dosage: "1000 IU", form: "softgel", color: "yellow", route: "oral",
			frequency: medication.FreqOnceDaily},
		{name: "Ibuprofen", dosage: "200mg", form: "tablet", color: "orange", route: "oral",
			instructions: "Take with food", frequency: medication.FreqAsNeeded},
		{name: "Gabapentin", dosage: "300mg", form: "capsule", color: "yellow", route: "oral",
			frequency: medication.FreqThreeTimesDaily},
		{name: "Montelukast", dosage: "10mg", form: "tablet", color: "beige", route: "oral",
			instructions: "Take in the evening", frequency: medication.FreqCustom, times: []string{"22:00"}},
		{name: "Metoprolol", dosage: "25mg", form: "tablet", color: "white", route: "oral",
			instructions: "Do not stop abruptly", frequency: medication.FreqTwiceDaily},
		{name: "Cetirizine", dosage: "10mg", form: "tablet", color: "white", route: "oral",
			frequency: medication.FreqOnceDaily},
		{name: "Insulin glargine", dosage: "10 units", form: "injection", route: "subcutaneous",
			instructions: "Inject at bedtime, rotate sites", frequency: medication.FreqCustom, times: []string{"21:30"}},
	}

	takenNotes = []string{
		"took with breakfast", "on schedule", "a little late today",
		"double-checked the dose",
	}
	skipNotes = []string{
		"felt nauseous", "forgot to pack them for the trip",
		"pharmacy refill pending", "doctor said to pause for the procedure",
	}
	sideEffectNotes = []string{
		"mild headache", "some drowsiness", "upset stomach",
	}
)

// ---------------------------------------------------------------------------
// generator
// ---------------------------------------------------------------------------

// generator wraps the seeded random source all demo choices draw from.
type generator struct {
	rng *rand.Rand
}

func newGenerator(seed int64) *generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// id derives a v4-shaped UUID from the seeded source so account ids are
// stable across runs with the same seed.
func (g *generator) id() uuid.UUID {
	var b [16]byte
	g.rng.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b)
}

// cabinet samples n distinct formulary entries.
func (g *generator) cabinet(n int) []medicationDef {
	idx := g.rng.Perm(len(medicationDefs))
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]medicationDef, 0, n)
	for _, i := range idx[:n] {
		out = append(out, medicationDefs[i])
	}
	return out
}

// medicationInput builds the create payload for one formulary entry. The
// schedule starts startDay so the history backfill has doses to cover.
func (g *generator) medicationInput(def medicationDef, tz string, startDay time.Time) medication.CreateInput {
	in := medication.CreateInput{
		Name:          def.name,
		Dosage:        def.dosage,
		FrequencyType: def.frequency,
		Timezone:      tz,
		StartDate:     startDay.Format("2006-01-02"),
		StartTime:     "08:00",
		CurrentStock:  10 + g.rng.Intn(80),
	}
	if def.form != "" {
		in.Form = strPtr(def.form)
	}
	if def.color != "" {
		in.Color = strPtr(def.color)
	}
	if def.route != "" {
		in.AdministrationRoute = strPtr(def.route)
	}
	if def.instructions != "" {
		in.Instructions = strPtr(def.instructions)
	}
	if def.frequency == medication.FreqEveryXHours {
		in.FrequencyValue = intPtr(def.everyHours)
	}
	if len(def.times) > 0 {
		in.ReminderTimes = append([]string(nil), def.times...)
	}
	return in
}

// logEntry rolls one adherence event for a scheduled dose. Roughly four
// in five doses are taken, the rest split between skips and misses.
func (g *generator) logEntry(medicationID uuid.UUID, scheduled time.Time) medlog.CreateInput {
	in := medlog.CreateInput{
		MedicationID: medicationID,
		Source:       medlog.SourceManual,
	}

	at := scheduled
	switch roll := g.rng.Intn(100); {
	case roll < 82:
		in.Action = medlog.ActionTaken
		at = at.Add(time.Duration(g.rng.Intn(25)) * time.Minute)
		if g.rng.Intn(6) == 0 {
			in.Notes = strPtr(g.pick(takenNotes))
		}
		if g.rng.Intn(12) == 0 {
			in.SideEffects = strPtr(g.pick(sideEffectNotes))
		}
	case roll < 92:
		in.Action = medlog.ActionSkipped
		in.Notes = strPtr(g.pick(skipNotes))
	default:
		in.Action = medlog.ActionMissed
	}
	in.TakenAt = &at
	return in
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder creates demo accounts directly and fills their cabinets through
// the medication and log services, so seeded data goes through the same
// validation and reminder materialization as real requests.
type Seeder struct {
	cfg         Config
	gen         *generator
	pool        *pgxpool.Pool
	medications *medication.Service
	logs        *medlog.Service
	logger      zerolog.Logger
}

func New(cfg Config, pool *pgxpool.Pool, medications *medication.Service, logs *medlog.Service, logger zerolog.Logger) *Seeder {
	return &Seeder{
		cfg:         cfg,
		gen:         newGenerator(cfg.Seed),
		pool:        pool,
		medications: medications,
		logs:        logs,
		logger:      logger.With().Str("component", "seeder").Logger(),
	}
}

// Run creates the configured accounts and fills each with medications,
// reminders and history. Re-running with the same seed reuses the same
// accounts and adds fresh cabinets to them.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for i := 0; i < s.cfg.Accounts; i++ {
		accountID, err := s.createAccount(ctx)
		if err != nil {
			return nil, err
		}
		result.Accounts++

		tz := s.gen.pick(timezones)
		for _, def := range s.gen.cabinet(s.cfg.MedicationsPerAccount) {
			med, err := s.createMedication(ctx, accountID, def, tz)
			if err != nil {
				return nil, err
			}
			result.Medications++

			n, err := s.backfillHistory(ctx, med)
			if err != nil {
				return nil, err
			}
			result.Logs += n
		}

		var count int
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM reminders WHERE account_id = $1`, accountID,
		).Scan(&count); err != nil {
			return nil, fmt.Errorf("counting reminders: %w", err)
		}
		result.Reminders += count
	}

	result.Duration = time.Since(start)
	return result, nil
}

// createAccount inserts a demo account row. There is no account signup
// surface in the API (accounts arrive through the identity provider), so
// the seeder writes the row the same way the dev migration does.
func (s *Seeder) createAccount(ctx context.Context) (uuid.UUID, error) {
	id := s.gen.id()
	first := s.gen.pick(firstNames)
	last := s.gen.pick(lastNames)
	email := fmt.Sprintf("%s.%s.%04x@demo.local",
		strings.ToLower(first), strings.ToLower(last), s.gen.rng.Intn(0x10000))
	mobile := fmt.Sprintf("+23480%07d", s.gen.rng.Intn(10000000))

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, first_name, last_name, email, mobile_number, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		ON CONFLICT DO NOTHING`,
		id, first, last, email, mobile)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug().Str("account_id", id.String()).Msg("account already seeded, reusing")
	} else {
		s.logger.Info().
			Str("account_id", id.String()).
			Str("email", email).
			Msg("seeded account")
	}
	return id, nil
}

func (s *Seeder) createMedication(ctx context.Context, accountID uuid.UUID, def medicationDef, tz string) (*medication.Medication, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	startDay := time.Now().In(loc).AddDate(0, 0, -s.cfg.HistoryDays)

	med, err := s.medications.Create(ctx, accountID, s.gen.medicationInput(def, tz, startDay))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", def.name, err)
	}
	return med, nil
}

// backfillHistory logs an adherence event for every dose the schedule
// produced between the medication start and an hour ago. The hour of
// slack keeps jittered taken-at instants safely in the past.
func (s *Seeder) backfillHistory(ctx context.Context, med *medication.Medication) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Hour)

	count := 0
	for _, at := range s.doseInstants(med, cutoff) {
		if _, err := s.logs.Log(ctx, med.AccountID, s.gen.logEntry(med.ID, at)); err != nil {
			return count, fmt.Errorf("logging history for %s: %w", med.Name, err)
		}
		count++
	}
	return count, nil
}

// doseInstants expands the medication's dosing rule over the history
// window, oldest first. As-needed medications get occasional spontaneous
// doses instead of a grid.
func (s *Seeder) doseInstants(med *medication.Medication, cutoff time.Time) []time.Time {
	var instants []time.Time

	switch rule := med.DoseRule().(type) {
	case medication.DailyTimes:
		loc := med.Location()
		startLocal := med.StartDatetime.In(loc)
		for day := 0; day <= s.cfg.HistoryDays; day++ {
			date := startLocal.AddDate(0, 0, day)
			for _, entry := range rule.Times {
				tod, err := medication.ParseTimeOfDay(entry)
				if err != nil {
					continue
				}
				at := medication.CombineLocal(date.Year(), date.Month(), date.Day(), tod, loc)
				if at.Before(cutoff) && !at.Before(med.StartDatetime) {
					instants = append(instants, at)
				}
			}
		}
	case medication.Interval:
		step := time.Duration(rule.Hours) * time.Hour
		for at := med.StartDatetime; at.Before(cutoff); at = at.Add(step) {
			instants = append(instants, at)
		}
	case medication.AsNeeded:
		for day := 0; day <= s.cfg.HistoryDays; day++ {
			if s.gen.rng.Intn(3) != 0 {
				continue
			}
			at := med.StartDatetime.AddDate(0, 0, day).
				Add(time.Duration(s.gen.rng.Intn(12)) * time.Hour)
			if at.Before(cutoff) {
				instants = append(instants, at)
			}
		}
	}
	return instants
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
