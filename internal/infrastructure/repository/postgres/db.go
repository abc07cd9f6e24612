package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the batch-processing tables if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	stream_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	author TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_messages_stream_status_ts ON messages(stream_id, status, ts);

CREATE TABLE IF NOT EXISTS processing_watermarks (
	stream_id TEXT PRIMARY KEY,
	watermark_time TIMESTAMPTZ NOT NULL,
	last_processed_batch_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS message_classifications (
	message_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	category TEXT NOT NULL,
	doc_value_reason TEXT NOT NULL DEFAULT '',
	rag_search_criteria TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_classifications_conversation ON message_classifications(conversation_id);

CREATE TABLE IF NOT EXISTS rag_contexts (
	conversation_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	retrieved_docs JSONB NOT NULL DEFAULT '[]'::jsonb,
	total_tokens_estimate INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	rejected BOOLEAN NOT NULL DEFAULT FALSE,
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	stream_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	batch_id TEXT NOT NULL,
	page TEXT NOT NULL,
	update_type TEXT NOT NULL,
	section TEXT NOT NULL DEFAULT '',
	suggested_text TEXT NOT NULL,
	raw_suggested_text TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	source_message_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL DEFAULT 'pending',
	enrichment JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_dedup
	ON proposals(conversation_id, batch_id, page, update_type, section);
CREATE INDEX IF NOT EXISTS idx_proposals_stream_created ON proposals(stream_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);

CREATE TABLE IF NOT EXISTS review_logs (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	batch_id TEXT NOT NULL,
	proposal_page TEXT NOT NULL,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_logs_batch ON review_logs(batch_id);

CREATE TABLE IF NOT EXISTS rulesets (
	tenant_id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
