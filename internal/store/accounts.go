package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAccountNotFound is returned when no account row matches the id.
var ErrAccountNotFound = errors.New("account not found")

// Account is a caller identity: opaque id, prepaid balance, lifetime
// request counter. Owned by the account-management collaborator; the
// gateway reads balance/counter and writes decrements and increments.
type Account struct {
	ID           string
	Balance      float64
	RequestCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetAccount loads an account by id.
func (db *DB) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, balance, request_count, created_at, updated_at FROM accounts WHERE id = ?`, id)

	var a Account
	if err := row.Scan(&a.ID, &a.Balance, &a.RequestCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &a, nil
}

// UpsertAccount creates or replaces an account row. Used by the
// account-management collaborator and by tests; the gateway itself
// never provisions accounts.
func (db *DB) UpsertAccount(ctx context.Context, a *Account) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, request_count) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance,
			request_count = excluded.request_count,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Balance, a.RequestCount)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// DebitBalance atomically deducts cost from the account if the balance
// covers it: UPDATE ... WHERE balance >= cost. Returns false when the
// balance no longer covers the cost (a concurrent request won the
// race); the caller decides how to settle.
func (db *DB) DebitBalance(ctx context.Context, id string, cost float64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance >= ?`,
		cost, id, cost)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read debit result: %w", err)
	}
	return n > 0, nil
}

// DrainBalance zeroes a balance that no longer covers a computed cost.
// Settlement for the gate-then-deduct race: the produced tokens are
// already spent upstream, so the remainder is written off rather than
// driving the balance negative.
func (db *DB) DrainBalance(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE accounts SET balance = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance > 0`, id)
	if err != nil {
		return fmt.Errorf("failed to drain balance: %w", err)
	}
	return nil
}

// IncrementRequestCount bumps the lifetime request counter.
func (db *DB) IncrementRequestCount(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE accounts SET request_count = request_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment request count: %w", err)
	}
	return nil
}
