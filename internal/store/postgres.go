package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	DB *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE TABLE IF NOT EXISTS ddf_raw_snapshots (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			endpoint       TEXT NOT NULL,
			external_id    TEXT,
			payload        JSONB NOT NULL,
			payload_sha256 TEXT NOT NULL,
			fetched_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_ddf_snapshots_sha ON ddf_raw_snapshots(endpoint, payload_sha256);`,
		`CREATE INDEX IF NOT EXISTS idx_ddf_snapshots_external ON ddf_raw_snapshots(external_id, fetched_at DESC);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is one raw upstream response body.
type Snapshot struct {
	Endpoint   string
	ExternalID string
	Payload    []byte
}

// Checksum identifies a payload; identical bodies are stored once per endpoint.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	if len(snap.Payload) == 0 {
		return errors.New("empty payload")
	}
	var ext sql.NullString
	if snap.ExternalID != "" {
		ext = sql.NullString{String: snap.ExternalID, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO ddf_raw_snapshots (endpoint, external_id, payload, payload_sha256)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (endpoint, payload_sha256) DO NOTHING`,
		snap.Endpoint, ext, string(snap.Payload), Checksum(snap.Payload),
	)
	return err
}
