package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mbd888/faucetd/internal/btc"
)

// PostgresStore persists the wallet balance (a single row) and receipts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet tables if they don't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_balance (
			id              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			balance_sats    BIGINT NOT NULL DEFAULT 0 CHECK (balance_sats >= 0),
			last_withdrawal TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		INSERT INTO wallet_balance (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS transactions (
			tx_hash      VARCHAR(80) PRIMARY KEY,
			from_address VARCHAR(100) NOT NULL,
			to_address   VARCHAR(100) NOT NULL,
			amount_sats  BIGINT NOT NULL,
			status       VARCHAR(20) NOT NULL,
			kind         VARCHAR(20),
			session_id   VARCHAR(128),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context) (btc.Amount, error) {
	var sats int64
	err := p.db.QueryRowContext(ctx, `SELECT balance_sats FROM wallet_balance WHERE id = 1`).Scan(&sats)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return btc.Amount(sats), err
}

func (p *PostgresStore) Credit(ctx context.Context, amount btc.Amount) (btc.Amount, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	var sats int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO wallet_balance (id, balance_sats, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET balance_sats = wallet_balance.balance_sats + EXCLUDED.balance_sats, updated_at = NOW()
		RETURNING balance_sats`, int64(amount)).Scan(&sats)
	return btc.Amount(sats), err
}

func (p *PostgresStore) Settle(ctx context.Context, observed btc.Amount, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE wallet_balance
		SET balance_sats = GREATEST(balance_sats - $1, 0), last_withdrawal = $2, updated_at = NOW()
		WHERE id = 1`, int64(observed), at)
	return err
}

func (p *PostgresStore) State(ctx context.Context) (State, error) {
	var (
		sats int64
		last sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `SELECT balance_sats, last_withdrawal FROM wallet_balance WHERE id = 1`).Scan(&sats, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	st := State{Balance: btc.Amount(sats)}
	if last.Valid {
		t := last.Time.UTC()
		st.LastWithdrawal = &t
	}
	return st, nil
}

func (p *PostgresStore) RecordTransfer(ctx context.Context, r *TransferResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (tx_hash, from_address, to_address, amount_sats, status, kind, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.TxHash, r.From, r.To, int64(r.Amount), r.Status, nullString(r.Kind), nullString(r.SessionID), r.Timestamp,
	)
	return err
}

func (p *PostgresStore) ListTransfers(ctx context.Context, limit int) ([]*TransferResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tx_hash, from_address, to_address, amount_sats, status, kind, session_id, created_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*TransferResult
	for rows.Next() {
		var (
			r         TransferResult
			sats      int64
			kind, sid sql.NullString
		)
		if err := rows.Scan(&r.TxHash, &r.From, &r.To, &sats, &r.Status, &kind, &sid, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Amount = btc.Amount(sats)
		r.Kind = kind.String
		r.SessionID = sid.String
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
