package medication

import (
	"context"
	"errors"

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

const medCols = `id, account_id, name, dosage, form, color, administration_route,
	instructions, frequency_type, frequency_value, reminder_times, timezone,
	start_datetime, end_datetime, current_stock, low_stock_threshold,
	is_active, created_at, updated_at`

func scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.AccountID, &m.Name, &m.Dosage, &m.Form, &m.Color, &m.AdministrationRoute,
		&m.Instructions, &m.FrequencyType, &m.FrequencyValue, &m.ReminderTimes, &m.Timezone,
		&m.StartDatetime, &m.EndDatetime, &m.CurrentStock, &m.LowStockThreshold,
		&m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medications (id, account_id, name, dosage, form, color, administration_route,
			instructions, frequency_type, frequency_value, reminder_times, timezone,
			start_datetime, end_datetime, current_stock, low_stock_threshold, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		m.ID, m.AccountID, m.Name, m.Dosage, m.Form, m.Color, m.AdministrationRoute,
		m.Instructions, m.FrequencyType, m.FrequencyValue, m.ReminderTimes, m.Timezone,
		m.StartDatetime, m.EndDatetime, m.CurrentStock, m.LowStockThreshold, m.IsActive).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *repoPG) GetByIDForAccount(ctx context.Context, id, accountID uuid.UUID) (*Medication, error) {
	return scanMed(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medCols+` FROM medications WHERE id = $1 AND account_id = $2`, id, accountID))
}

func (r *repoPG) ListByAccount(ctx context.Context, accountID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	where := `WHERE account_id = $1`
	if activeOnly {
		where += ` AND is_active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medications `+where, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medications `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListActive(ctx context.Context, limit, offset int) ([]*Medication, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medications WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medications WHERE is_active ORDER BY created_at LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListLowStock(ctx context.Context, accountID uuid.UUID) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medCols+` FROM medications
		WHERE account_id = $1 AND is_active AND current_stock <= low_stock_threshold
		ORDER BY current_stock ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, m *Medication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medications SET name=$3, dosage=$4, form=$5, color=$6, administration_route=$7,
			instructions=$8, frequency_type=$9, frequency_value=$10, reminder_times=$11,
			timezone=$12, start_datetime=$13, end_datetime=$14,
			current_stock=$15, low_stock_threshold=$16, is_active=$17, updated_at=NOW()
		WHERE id = $1 AND account_id = $2`,
		m.ID, m.AccountID, m.Name, m.Dosage, m.Form, m.Color, m.AdministrationRoute,
		m.Instructions, m.FrequencyType, m.FrequencyValue, m.ReminderTimes,
		m.Timezone, m.StartDatetime, m.EndDatetime,
		m.CurrentStock, m.LowStockThreshold, m.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AdjustStock(ctx context.Context, id, accountID uuid.UUID, delta int) (*Medication, error) {
	m, err := scanMed(r.conn(ctx).QueryRow(ctx, `
		UPDATE medications SET current_stock = current_stock + $3, updated_at = NOW()
		WHERE id = $1 AND account_id = $2 AND current_stock + $3 >= 0
		RETURNING `+medCols, id, accountID, delta))
	if errors.Is(err, ErrNotFound) {
		// Either the row is missing or the delta would go negative.
		if _, getErr := r.GetByIDForAccount(ctx, id, accountID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInsufficientStock
	}
	return m, err
}

func (r *repoPG) DecrementStockForIntake(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medications SET current_stock = current_stock - 1, updated_at = NOW()
		WHERE id = $1 AND current_stock > 0`, id)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medications SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM medications WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
