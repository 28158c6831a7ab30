package claimlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/claim"
)

// PostgresStore persists claim logs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed claim log store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the claim_logs table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claim_logs (
			id            VARCHAR(64) PRIMARY KEY,
			session_id    VARCHAR(128) NOT NULL,
			faucet_name   VARCHAR(255) NOT NULL,
			status        VARCHAR(20) NOT NULL,
			amount_sats   BIGINT NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_claim_logs_created ON claim_logs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_claim_logs_session ON claim_logs(session_id);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, l *Log) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO claim_logs (id, session_id, faucet_name, status, amount_sats, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.SessionID, l.FaucetName, string(l.Status), int64(l.Amount), nullString(l.ErrorMessage), l.Timestamp,
	)
	return err
}

func (p *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Log, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, faucet_name, status, amount_sats, error_message, created_at
		FROM claim_logs
		ORDER BY created_at DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Summary(ctx context.Context, since time.Time) (Summary, error) {
	var s Summary
	var claimed int64
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status <> 'success'),
			COALESCE(SUM(amount_sats) FILTER (WHERE status = 'success'), 0)
		FROM claim_logs
		WHERE created_at >= $1`, since,
	).Scan(&s.SuccessfulClaims, &s.FailedClaims, &claimed)
	if err != nil {
		return Summary{}, err
	}
	s.Claimed = btc.Amount(claimed)
	return s, nil
}

func scanLog(rows *sql.Rows) (*Log, error) {
	var (
		l      Log
		status string
		amount int64
		errMsg sql.NullString
	)
	if err := rows.Scan(&l.ID, &l.SessionID, &l.FaucetName, &status, &amount, &errMsg, &l.Timestamp); err != nil {
		return nil, err
	}
	l.Status = claim.Status(status)
	l.Amount = btc.Amount(amount)
	l.ErrorMessage = errMsg.String
	l.Timestamp = l.Timestamp.UTC()
	return &l, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
