// Package store persists stage results to PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tiroq/audiopipe/internal/speaker"
)

// TranscriptRow is one labeled transcription segment.
type TranscriptRow struct {
	SpeakerID string
	Start     float64
	End       float64
	Text      string
}

// Store wraps a Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close releases the pool. Safe on nil.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS diarization_turns (
		id            BIGSERIAL PRIMARY KEY,
		run_id        UUID NOT NULL,
		source_file   TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		speaker_id    TEXT NOT NULL,
		start_seconds DOUBLE PRECISION NOT NULL,
		stop_seconds  DOUBLE PRECISION NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS diarization_turns_source_idx ON diarization_turns (source_file)`,
	`CREATE TABLE IF NOT EXISTS transcription_segments (
		id            BIGSERIAL PRIMARY KEY,
		run_id        UUID NOT NULL,
		source_file   TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		speaker_id    TEXT NOT NULL,
		start_seconds DOUBLE PRECISION NOT NULL,
		stop_seconds  DOUBLE PRECISION NOT NULL,
		transcription TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transcription_segments_source_idx ON transcription_segments (source_file)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d: %w", i, err)
		}
	}
	return nil
}

// SaveDiarization replaces the stored turns for file.
func (s *Store) SaveDiarization(ctx context.Context, runID, file string, turns []speaker.Turn) error {
	rows := make([][]any, len(turns))
	for i, t := range turns {
		rows[i] = []any{t.Speaker, t.Start, t.End}
	}
	return s.replace(ctx, runID, file, "diarization_turns",
		[]string{"speaker_id", "start_seconds", "stop_seconds"}, rows)
}

// SaveTranscription replaces the stored transcription segments for file.
func (s *Store) SaveTranscription(ctx context.Context, runID, file string, segs []TranscriptRow) error {
	rows := make([][]any, len(segs))
	for i, r := range segs {
		rows[i] = []any{r.SpeakerID, r.Start, r.End, r.Text}
	}
	return s.replace(ctx, runID, file, "transcription_segments",
		[]string{"speaker_id", "start_seconds", "stop_seconds", "transcription"}, rows)
}

// replace deletes the rows of file in table and bulk-loads rows with COPY,
// all in one transaction.
func (s *Store) replace(ctx context.Context, runID, file, table string, cols []string, rows [][]any) (err error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("store: invalid run id %q: %w", runID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(table)+" WHERE source_file = $1", file); err != nil {
		return fmt.Errorf("store: clear %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, append([]string{"run_id", "source_file", "seq"}, cols...)...))
	if err != nil {
		return fmt.Errorf("store: prepare copy: %w", err)
	}
	for i, r := range rows {
		args := append([]any{id.String(), file, i}, r...)
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return fmt.Errorf("store: copy row %d: %w", i, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("store: flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("store: close copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// CountRows returns how many rows table holds for file.
func (s *Store) CountRows(ctx context.Context, table, file string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM "+pq.QuoteIdentifier(table)+" WHERE source_file = $1", file).Scan(&n)
	return n, err
}
