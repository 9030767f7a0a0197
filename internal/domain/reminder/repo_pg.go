package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediremind/mediremind/internal/platform/clock"
	"github.com/mediremind/mediremind/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const remCols = "id, medication_id, account_id, scheduled_time, status, sent_at, taken_at, notes, created_at, updated_at"

func scanReminder(row pgx.Row) (*Reminder, error) {
	var rem Reminder
	err := row.Scan(
		&rem.ID, &rem.MedicationID, &rem.AccountID, &rem.ScheduledTime,
		&rem.Status, &rem.SentAt, &rem.TakenAt, &rem.Notes,
		&rem.CreatedAt, &rem.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Reminder, error) {
	defer rows.Close()
	var items []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rem)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateBatch(ctx context.Context, reminders []*Reminder) (int, error) {
	if len(reminders) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, len(reminders))
	medIDs := make([]uuid.UUID, len(reminders))
	accountIDs := make([]uuid.UUID, len(reminders))
	times := make([]time.Time, len(reminders))
	for i, rem := range reminders {
		if rem.ID == uuid.Nil {
			rem.ID = uuid.New()
		}
		rem.Status = StatusPending
		ids[i] = rem.ID
		medIDs[i] = rem.MedicationID
		accountIDs[i] = rem.AccountID
		times[i] = rem.ScheduledTime
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reminders (id, medication_id, account_id, scheduled_time, status)
		SELECT u.id, u.medication_id, u.account_id, u.scheduled_time, 'pending'
		FROM unnest($1::uuid[], $2::uuid[], $3::uuid[], $4::timestamptz[])
			AS u(id, medication_id, account_id, scheduled_time)
		ON CONFLICT (medication_id, scheduled_time) DO NOTHING`,
		ids, medIDs, accountIDs, times)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Reminder, error) {
	return scanReminder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+remCols+` FROM reminders WHERE id = $1 AND account_id = $2`,
		id, accountID))
}

func (r *repoPG) ListByAccount(ctx context.Context, accountID uuid.UUID, f ListFilter, limit, offset int) ([]*Reminder, int, error) {
	where := "WHERE account_id = $1"
	args := []interface{}{accountID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND scheduled_time >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where += fmt.Sprintf(" AND scheduled_time <= $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM reminders "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		"SELECT %s FROM reminders %s ORDER BY scheduled_time DESC LIMIT $%d OFFSET $%d",
		remCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) ListByMedication(ctx context.Context, medicationID, accountID uuid.UUID, limit, offset int) ([]*Reminder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM reminders WHERE medication_id = $1 AND account_id = $2`,
		medicationID, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+remCols+` FROM reminders
		 WHERE medication_id = $1 AND account_id = $2
		 ORDER BY scheduled_time LIMIT $3 OFFSET $4`,
		medicationID, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) Today(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Reminder, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+remCols+` FROM reminders
		 WHERE account_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		 ORDER BY scheduled_time`,
		accountID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) Upcoming(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+remCols+` FROM reminders
		 WHERE account_id = $1 AND status = 'pending'
		   AND scheduled_time >= $2 AND scheduled_time <= $3
		 ORDER BY scheduled_time`,
		accountID, from, until)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) ScheduledSet(ctx context.Context, medicationID uuid.UUID, w clock.Window) (map[time.Time]struct{}, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT scheduled_time FROM reminders
		 WHERE medication_id = $1 AND scheduled_time >= $2 AND scheduled_time <= $3`,
		medicationID, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[time.Time]struct{})
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		set[clock.Normalize(t)] = struct{}{}
	}
	return set, rows.Err()
}

func (r *repoPG) DeleteFuturePending(ctx context.Context, medicationID uuid.UUID, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM reminders
		 WHERE medication_id = $1 AND status = 'pending' AND scheduled_time > $2`,
		medicationID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) SweepMissed(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE reminders SET status = 'missed', updated_at = NOW()
		 WHERE status IN ('pending', 'sending') AND scheduled_time < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Due, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH due AS (
			SELECT rem.id FROM reminders rem
			JOIN medications m ON m.id = rem.medication_id
			WHERE m.is_active
			  AND rem.scheduled_time <= $1
			  AND (rem.status = 'pending' OR (rem.status = 'sending' AND rem.updated_at < $2))
			ORDER BY rem.scheduled_time
			LIMIT $3
			FOR UPDATE OF rem SKIP LOCKED
		)
		UPDATE reminders rem
		SET status = 'sending', updated_at = NOW()
		FROM due, medications m
		WHERE rem.id = due.id AND m.id = rem.medication_id
		RETURNING rem.id, rem.medication_id, rem.account_id, rem.scheduled_time,
			rem.status, rem.sent_at, rem.taken_at, rem.notes,
			rem.created_at, rem.updated_at, m.name, m.dosage`,
		now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(
			&d.ID, &d.MedicationID, &d.AccountID, &d.ScheduledTime,
			&d.Status, &d.SentAt, &d.TakenAt, &d.Notes,
			&d.CreatedAt, &d.UpdatedAt, &d.MedicationName, &d.MedicationDosage,
		); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE reminders SET status = 'sent', sent_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'sending'`,
		id, at)
	return err
}

func (r *repoPG) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE reminders SET status = 'pending', updated_at = NOW()
		 WHERE id = $1 AND status = 'sending'`,
		id)
	return err
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, target Status, takenAt *time.Time, notes *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE reminders
		 SET status = $2, taken_at = COALESCE($3, taken_at),
		     notes = COALESCE($4, notes), updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'sending', 'sent')`,
		id, target, takenAt, notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM reminders WHERE id = $1 AND account_id = $2`,
		id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
