package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InitSchema creates all required database tables if they don't exist.
// This is called on API startup to ensure the database is ready.
func InitSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const schemaSQL = `
-- Runs: per-user pipeline lifecycle (§3, §4.8).
CREATE TABLE IF NOT EXISTS runs (
	id BIGSERIAL PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL DEFAULT 'queued',
	step VARCHAR(64) NOT NULL DEFAULT '',
	pct INT NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ(6) NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ(6),
	mail_count INT NOT NULL DEFAULT 0,
	crm_count INT NOT NULL DEFAULT 0,
	mail_ready BOOLEAN NOT NULL DEFAULT false,
	crm_ready BOOLEAN NOT NULL DEFAULT false,
	artifacts JSONB
);
CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id);
CREATE INDEX IF NOT EXISTS idx_runs_user_status ON runs(user_id, status);

-- Field mappings: one row per (run_id, source) (§3, §4.3).
CREATE TABLE IF NOT EXISTS mappings (
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	source VARCHAR(16) NOT NULL,
	fields JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ(6) NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, source)
);

-- Raw landed rows, verbatim per upload (§3, §4.2).
CREATE TABLE IF NOT EXISTS staging_raw_mail (
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	user_id VARCHAR(255) NOT NULL,
	rownum INT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (run_id, rownum)
);

CREATE TABLE IF NOT EXISTS staging_raw_crm (
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	user_id VARCHAR(255) NOT NULL,
	rownum INT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (run_id, rownum)
);

-- Normalized, per-user-deduplicated mail staging (§3, §4.4).
CREATE TABLE IF NOT EXISTS staging_mail (
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line_no INT NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	mail_key VARCHAR(64) NOT NULL,
	source_id VARCHAR(255),
	address1 TEXT NOT NULL,
	address2 TEXT,
	city TEXT NOT NULL,
	state TEXT NOT NULL,
	zip TEXT NOT NULL,
	full_address TEXT NOT NULL,
	sent_date DATE,
	source_row_hash VARCHAR(64),
	UNIQUE (user_id, mail_key)
);
CREATE INDEX IF NOT EXISTS idx_staging_mail_run_id ON staging_mail(run_id);
CREATE INDEX IF NOT EXISTS idx_staging_mail_zip ON staging_mail(zip);

-- Normalized, per-user-deduplicated CRM staging (§3, §4.4).
CREATE TABLE IF NOT EXISTS staging_crm (
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line_no INT NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	job_index VARCHAR(64) NOT NULL,
	source_id VARCHAR(255),
	address1 TEXT NOT NULL,
	address2 TEXT,
	city TEXT NOT NULL,
	state TEXT NOT NULL,
	zip TEXT NOT NULL,
	full_address TEXT NOT NULL,
	job_date DATE,
	job_value NUMERIC(12,2),
	source_row_hash VARCHAR(64),
	UNIQUE (user_id, job_index)
);
CREATE INDEX IF NOT EXISTS idx_staging_crm_run_id ON staging_crm(run_id);
CREATE INDEX IF NOT EXISTS idx_staging_crm_zip ON staging_crm(zip);

-- Winning mail-to-job attribution, one row per job_index (§3, §4.5, §4.6).
CREATE TABLE IF NOT EXISTS matches (
	user_id VARCHAR(255) NOT NULL,
	run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	job_index VARCHAR(64) NOT NULL,
	crm_line_no INT NOT NULL,
	crm_job_date DATE,
	job_value NUMERIC(12,2) NOT NULL DEFAULT 0,
	crm_city TEXT NOT NULL,
	crm_state TEXT NOT NULL,
	crm_zip TEXT NOT NULL,
	crm_full_address TEXT NOT NULL,
	mail_full_address TEXT NOT NULL,
	mail_ids TEXT[] NOT NULL DEFAULT '{}',
	matched_mail_dates TEXT[] NOT NULL DEFAULT '{}',
	confidence_percent INT NOT NULL DEFAULT 0,
	match_notes TEXT NOT NULL DEFAULT '',
	zip5 VARCHAR(5) NOT NULL DEFAULT '',
	state VARCHAR(2) NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, job_index)
);
CREATE INDEX IF NOT EXISTS idx_matches_run_id ON matches(run_id);
CREATE INDEX IF NOT EXISTS idx_matches_user_id ON matches(user_id);
`
