// Package integration exercises the repositories and services against a
// real Postgres. The suite is opt-in: set TEST_DATABASE_URL to a disposable
// database and every table in it is dropped and re-migrated on startup.
// Without the variable the tests skip.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/domain/account"
	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/domain/medlog"
	"github.com/mediremind/mediremind/internal/domain/reminder"
	"github.com/mediremind/mediremind/internal/platform/clock"
	"github.com/mediremind/mediremind/internal/platform/db"
)

// pool is the shared connection pool, nil when TEST_DATABASE_URL is unset.
var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		// Each test skips via requireDB.
		os.Exit(m.Run())
	}

	ctx := context.Background()
	p, err := db.NewPool(ctx, url, 10, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}
	if err := resetSchema(ctx, p); err != nil {
		fmt.Fprintf(os.Stderr, "reset test schema: %v\n", err)
		p.Close()
		os.Exit(1)
	}

	pool = p
	code := m.Run()
	p.Close()
	os.Exit(code)
}

// resetSchema drops everything the migrations create and reapplies them,
// so every run starts from the exact DDL under migrations/.
func resetSchema(ctx context.Context, p *pgxpool.Pool) error {
	_, err := p.Exec(ctx, `DROP TABLE IF EXISTS
		medication_logs, reminders, medications, push_subscriptions, accounts,
		_migrations CASCADE`)
	if err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if _, err := db.NewMigrator(p, migrationsDir()).Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrationsDir locates migrations/ relative to this file.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func requireDB(t *testing.T) {
	t.Helper()
	if pool == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
}

// testServices is the full domain wiring over the shared pool, mirroring
// the server assembly but without transports.
type testServices struct {
	Accounts    *account.Service
	Medications *medication.Service
	Logs        *medlog.Service
	Reminders   *reminder.Service

	AccountRepo  account.Repository
	MedRepo      medication.Repository
	LogRepo      medlog.Repository
	ReminderRepo reminder.Repository

	Clock clock.Clock
}

// intakeLogAdapter mirrors the adapter the server wires between the
// reminder and medlog services: transition logs ride the ambient
// transaction and carry the reminder source.
type intakeLogAdapter struct{ logs *medlog.Service }

func (a *intakeLogAdapter) LogIntake(ctx context.Context, entry reminder.IntakeEntry) error {
	in := medlog.CreateInput{
		MedicationID: entry.MedicationID,
		Action:       medlog.Action(entry.Action),
		Source:       medlog.SourceReminder,
		TakenAt:      &entry.At,
		Notes:        entry.Notes,
	}
	if entry.ReminderID != uuid.Nil {
		id := entry.ReminderID
		in.ReminderID = &id
	}
	_, err := a.logs.Log(ctx, entry.AccountID, in)
	return err
}

func newServices(t *testing.T) *testServices {
	t.Helper()
	requireDB(t)

	logger := zerolog.Nop()
	clk := clock.System{}
	tx := db.NewTxRunner(pool)

	acctRepo := account.NewRepoPG(pool)
	medRepo := medication.NewRepoPG(pool)
	logRepo := medlog.NewRepoPG(pool)
	remRepo := reminder.NewRepoPG(pool)

	logs := medlog.NewService(logRepo, medRepo, clk, logger)
	rems := reminder.NewService(remRepo, medRepo, &intakeLogAdapter{logs}, tx, clk, logger)
	meds := medication.NewService(medRepo, rems, logs, tx, logger)

	return &testServices{
		Accounts:     account.NewService(acctRepo, logger),
		Medications:  meds,
		Logs:         logs,
		Reminders:    rems,
		AccountRepo:  acctRepo,
		MedRepo:      medRepo,
		LogRepo:      logRepo,
		ReminderRepo: remRepo,
		Clock:        clk,
	}
}

// createTestAccount inserts an account row directly; sign-up flows are out
// of scope, so the table is seeded the same way migrations would.
func createTestAccount(t *testing.T, ctx context.Context) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO accounts (id, first_name, last_name, email, mobile_number, status)
		 VALUES ($1, $2, $3, $4, $5, 'active')`,
		id, "Ada", "Obi", fmt.Sprintf("ada+%s@example.test", id.String()[:8]), "+2348012345678")
	if err != nil {
		t.Fatalf("create test account: %v", err)
	}
	return id
}

// createTestMedication registers a twice-daily medication through the
// service, which also materializes its first week of reminders.
func createTestMedication(t *testing.T, ctx context.Context, svc *medication.Service, accountID uuid.UUID, name string) *medication.Medication {
	t.Helper()
	med, err := svc.Create(ctx, accountID, medication.CreateInput{
		Name:          name,
		Dosage:        "500mg",
		FrequencyType: medication.FreqTwiceDaily,
		ReminderTimes: []string{"08:00", "20:00"},
		Timezone:      "Africa/Lagos",
		StartDate:     time.Now().UTC().Format("2006-01-02"),
		StartTime:     "08:00",
		CurrentStock:  20,
	})
	if err != nil {
		t.Fatalf("create test medication: %v", err)
	}
	return med
}

// insertReminder writes one reminder row at the given instant, bypassing
// the expander so tests control the schedule exactly.
func insertReminder(t *testing.T, ctx context.Context, repo reminder.Repository, med *medication.Medication, at time.Time) *reminder.Reminder {
	t.Helper()
	rem := &reminder.Reminder{
		MedicationID:  med.ID,
		AccountID:     med.AccountID,
		ScheduledTime: clock.Normalize(at),
		Status:        reminder.StatusPending,
	}
	n, err := repo.CreateBatch(ctx, []*reminder.Reminder{rem})
	if err != nil {
		t.Fatalf("insert reminder: %v", err)
	}
	if n != 1 {
		t.Fatalf("insert reminder: created %d rows, want 1", n)
	}
	return rem
}

func reminderStatus(t *testing.T, ctx context.Context, id uuid.UUID) string {
	t.Helper()
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM reminders WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("read reminder status: %v", err)
	}
	return status
}

func medicationStock(t *testing.T, ctx context.Context, id uuid.UUID) int {
	t.Helper()
	var stock int
	if err := pool.QueryRow(ctx, `SELECT current_stock FROM medications WHERE id = $1`, id).Scan(&stock); err != nil {
		t.Fatalf("read medication stock: %v", err)
	}
	return stock
}

func ptrStr(s string) *string { return &s }

func ptrInt(i int) *int { return &i }

func ptrTime(t time.Time) *time.Time { return &t }
