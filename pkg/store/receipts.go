package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the receipt store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Receipt kinds persisted in dil_receipts.
const (
	KindValidation   = "validation"
	KindVerification = "verification"
)

// ReceiptStore persists validation and verification receipts. The payload
// column holds the exact canonical bytes the emitter produced, so a stored
// receipt replays byte-identically.
type ReceiptStore struct {
	DB DB
}

type Receipt struct {
	ReceiptID string
	SpecHash  string
	Kind      string
	State     string
	ExitCode  int
	Payload   string
	CreatedAt time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dil_receipts (
	receipt_id TEXT PRIMARY KEY,
	spec_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	exit_code INT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS dil_receipts_spec_hash_idx ON dil_receipts (spec_hash);
`

// EnsureSchema creates the receipts table when missing.
func (s *ReceiptStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schemaSQL)
	return err
}

func (s *ReceiptStore) Append(ctx context.Context, rec Receipt) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO dil_receipts
		(receipt_id, spec_hash, kind, state, exit_code, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ReceiptID, rec.SpecHash, rec.Kind, rec.State, rec.ExitCode, rec.Payload, rec.CreatedAt)
	return err
}

func (s *ReceiptStore) Get(ctx context.Context, receiptID string) (Receipt, error) {
	var rec Receipt
	row := s.DB.QueryRow(ctx, `
		SELECT receipt_id, spec_hash, kind, state, exit_code, payload, created_at
		FROM dil_receipts WHERE receipt_id=$1
	`, receiptID)
	if err := row.Scan(&rec.ReceiptID, &rec.SpecHash, &rec.Kind, &rec.State, &rec.ExitCode, &rec.Payload, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}

// LatestForSpec returns the most recent receipt of a kind for a spec hash.
func (s *ReceiptStore) LatestForSpec(ctx context.Context, specHash, kind string) (Receipt, error) {
	var rec Receipt
	row := s.DB.QueryRow(ctx, `
		SELECT receipt_id, spec_hash, kind, state, exit_code, payload, created_at
		FROM dil_receipts WHERE spec_hash=$1 AND kind=$2
		ORDER BY created_at DESC LIMIT 1
	`, specHash, kind)
	if err := row.Scan(&rec.ReceiptID, &rec.SpecHash, &rec.Kind, &rec.State, &rec.ExitCode, &rec.Payload, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}
