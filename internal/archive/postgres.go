package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

const createTable = `
CREATE TABLE IF NOT EXISTS consultations (
	id           TEXT PRIMARY KEY,
	state        TEXT NOT NULL,
	outcome      TEXT NOT NULL DEFAULT '',
	patient_hash TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS consultations_patient_hash_idx ON consultations (patient_hash);
`

const upsertRecord = `
INSERT INTO consultations (id, state, outcome, patient_hash, payload, created_at, archived_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	outcome = EXCLUDED.outcome,
	payload = EXCLUDED.payload,
	archived_at = EXCLUDED.archived_at
`

// PostgresArchive stores records in the consultations table with the full
// record as JSONB.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive uses an open database.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	a := NewPostgresArchive(db)
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Migrate creates the table if missing.
func (a *PostgresArchive) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("migrating archive: %w", err)
	}
	return nil
}

// Archive upserts r.
func (a *PostgresArchive) Archive(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = a.db.ExecContext(ctx, upsertRecord,
		r.ID, r.State, r.Outcome, r.PatientHash, string(payload), r.CreatedAt, r.ArchivedAt)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", r.ID, err)
	}
	return nil
}

// Get loads an archived record.
func (a *PostgresArchive) Get(ctx context.Context, id string) (Record, error) {
	var payload []byte
	err := a.db.QueryRowContext(ctx, `SELECT payload FROM consultations WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		return Record{}, fmt.Errorf("loading %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (a *PostgresArchive) Close(context.Context) error {
	return a.db.Close()
}
