package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call transcripts and coach state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_transcripts (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_created ON call_transcripts (call_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS call_coach_state (
			call_id TEXT PRIMARY KEY,
			coach_memory JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'active',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, row TranscriptRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_transcripts (id, call_id, speaker, text, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		row.ID,
		row.CallID,
		row.Speaker,
		row.Text,
		row.PIIRedacted,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTranscript(ctx context.Context, callID string, limit int) ([]TranscriptRow, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, speaker, text, pii_redacted, created_at
		 FROM call_transcripts WHERE call_id=$1 ORDER BY created_at DESC LIMIT $2`,
		callID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	items := make([]TranscriptRow, 0, limit)
	for rows.Next() {
		var r TranscriptRow
		if err := rows.Scan(&r.ID, &r.CallID, &r.Speaker, &r.Text, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) LoadCoachMemory(ctx context.Context, callID string) (CoachMemory, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT coach_memory FROM call_coach_state WHERE call_id=$1`,
		callID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return CoachMemory{}, false, nil
	}
	if err != nil {
		return CoachMemory{}, false, fmt.Errorf("load coach memory: %w", err)
	}
	var mem CoachMemory
	if err := json.Unmarshal(raw, &mem); err != nil {
		return CoachMemory{}, false, fmt.Errorf("decode coach memory: %w", err)
	}
	return mem, true, nil
}

func (s *PostgresStore) SaveCoachMemory(ctx context.Context, callID string, mem CoachMemory) error {
	raw, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode coach memory: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_coach_state (call_id, coach_memory, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (call_id) DO UPDATE SET coach_memory = EXCLUDED.coach_memory, updated_at = now()`,
		callID,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("save coach memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCallStatus(ctx context.Context, callID, status string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_coach_state (call_id, status, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (call_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		callID,
		status,
	)
	if err != nil {
		return fmt.Errorf("set call status: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
