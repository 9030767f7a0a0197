package medlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediremind/mediremind/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const logCols = `id, medication_id, account_id, reminder_id, medication_name, dosage,
	action, source, taken_at, dosage_taken, notes, side_effects,
	voided, voided_at, created_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.MedicationID, &l.AccountID, &l.ReminderID, &l.MedicationName, &l.Dosage,
		&l.Action, &l.Source, &l.TakenAt, &l.DosageTaken, &l.Notes, &l.SideEffects,
		&l.Voided, &l.VoidedAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, entry *Log) error {
	entry.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_logs (id, medication_id, account_id, reminder_id, medication_name,
			dosage, action, source, taken_at, dosage_taken, notes, side_effects)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		entry.ID, entry.MedicationID, entry.AccountID, entry.ReminderID, entry.MedicationName,
		entry.Dosage, entry.Action, entry.Source, entry.TakenAt, entry.DosageTaken,
		entry.Notes, entry.SideEffects).
		Scan(&entry.CreatedAt)
}

func (r *repoPG) GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Log, error) {
	return scanLog(r.conn(ctx).QueryRow(ctx,
		`SELECT `+logCols+` FROM medication_logs WHERE id = $1 AND account_id = $2`, id, accountID))
}

func (r *repoPG) ListByAccount(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Log, int, error) {
	where := "account_id = $1"
	args := []interface{}{accountID}

	if !f.IncludeVoided {
		where += " AND NOT voided"
	}
	if f.MedicationID != nil {
		args = append(args, *f.MedicationID)
		where += fmt.Sprintf(" AND medication_id = $%d", len(args))
	}
	if f.Action != nil {
		args = append(args, *f.Action)
		where += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND taken_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where += fmt.Sprintf(" AND taken_at <= $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+logCols+` FROM medication_logs WHERE `+where+
			fmt.Sprintf(` ORDER BY taken_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Void(ctx context.Context, id, accountID uuid.UUID, at time.Time, notes *string) (*Log, error) {
	return scanLog(r.conn(ctx).QueryRow(ctx, `
		UPDATE medication_logs
		SET voided = TRUE, voided_at = $3, notes = COALESCE($4, notes)
		WHERE id = $1 AND account_id = $2 AND NOT voided
		RETURNING `+logCols,
		id, accountID, at, notes))
}

func (r *repoPG) CountByAction(ctx context.Context, accountID uuid.UUID, medicationID *uuid.UUID, from, until time.Time) (map[Action]int, error) {
	where := "account_id = $1 AND NOT voided AND taken_at >= $2 AND taken_at <= $3"
	args := []interface{}{accountID, from, until}
	if medicationID != nil {
		args = append(args, *medicationID)
		where += fmt.Sprintf(" AND medication_id = $%d", len(args))
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT action, COUNT(*) FROM medication_logs WHERE `+where+` GROUP BY action`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Action]int)
	for rows.Next() {
		var action Action
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

func (r *repoPG) DistinctMedications(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]MedicationRef, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT medication_id, medication_name
		FROM medication_logs
		WHERE account_id = $1 AND NOT voided AND taken_at >= $2 AND taken_at <= $3
		ORDER BY medication_name`,
		accountID, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MedicationRef
	for rows.Next() {
		var ref MedicationRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *repoPG) Summary(ctx context.Context, accountID uuid.UUID, since time.Time) (*Summary, error) {
	var s Summary
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT medication_id), MAX(taken_at)
		FROM medication_logs
		WHERE account_id = $1 AND NOT voided AND taken_at >= $2`,
		accountID, since).
		Scan(&s.TotalLogs, &s.UniqueMedications, &s.LastLogAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) ExistsForMedication(ctx context.Context, medicationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM medication_logs WHERE medication_id = $1)`,
		medicationID).Scan(&exists)
	return exists, err
}
