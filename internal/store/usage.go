package store

import (
	"context"
	"fmt"
	"time"
)

// UsageRecord is one append-only ledger entry. Created exactly once per
// completed (or best-effort-completed) request, never mutated.
type UsageRecord struct {
	ID         int64
	AccountID  string
	Model      string
	TokenCount int
	Cost       float64
	CreatedAt  time.Time
}

// AppendUsage inserts a ledger entry.
func (db *DB) AppendUsage(ctx context.Context, rec *UsageRecord) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO usage_records (account_id, model, token_count, cost, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Model, rec.TokenCount, rec.Cost, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get usage record id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListUsage returns the most recent ledger entries for an account,
// newest first.
func (db *DB) ListUsage(ctx context.Context, accountID string, limit int) ([]UsageRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, account_id, model, token_count, cost, created_at
		FROM usage_records WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var recs []UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Model, &r.TokenCount, &r.Cost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
