package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Credential is one upstream provider secret from the operator-managed
// pool. The gateway only flips status to offline on auth failure and
// records last use; rows are created out-of-band and never deleted here.
type Credential struct {
	ID         string
	Secret     string
	Status     string // "active" or "offline"
	LastUsedAt sql.NullTime
}

// ListCredentials returns the full credential pool.
func (db *DB) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, secret, status, last_used_at FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Secret, &c.Status, &c.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// InsertCredential adds a credential to the pool. Operator tooling and
// tests only.
func (db *DB) InsertCredential(ctx context.Context, id, secret string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credentials (id, secret, status) VALUES (?, ?, 'active')`, id, secret)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// SetCredentialStatus flips a credential's status. Idempotent.
func (db *DB) SetCredentialStatus(ctx context.Context, id, status string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set credential status: %w", err)
	}
	return nil
}

// TouchCredential records last use. Advisory, never required for correctness.
func (db *DB) TouchCredential(ctx context.Context, id string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}
