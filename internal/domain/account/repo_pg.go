package account

import (
	"context"
	"errors"
	"fmt"

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

const accountCols = `id, first_name, last_name, email, mobile_number, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.MobileNumber,
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *repoPG) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

const subCols = `id, account_id, endpoint, p256dh, auth, created_at`

func scanSubscription(row pgx.Row) (*PushSubscription, error) {
	var s PushSubscription
	err := row.Scan(&s.ID, &s.AccountID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return &s, err
}

func (r *repoPG) ListSubscriptions(ctx context.Context, accountID uuid.UUID) ([]*PushSubscription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+subCols+` FROM push_subscriptions WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*PushSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}

func (r *repoPG) SaveSubscription(ctx context.Context, sub *PushSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO push_subscriptions (id, account_id, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint) DO UPDATE
			SET account_id = EXCLUDED.account_id,
			    p256dh     = EXCLUDED.p256dh,
			    auth       = EXCLUDED.auth
		RETURNING id, created_at`,
		sub.ID, sub.AccountID, sub.Endpoint, sub.P256dh, sub.Auth)
	if err := row.Scan(&sub.ID, &sub.CreatedAt); err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (r *repoPG) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repoPG) DeleteSubscription(ctx context.Context, accountID uuid.UUID, endpoint string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM push_subscriptions WHERE account_id = $1 AND endpoint = $2`,
		accountID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
