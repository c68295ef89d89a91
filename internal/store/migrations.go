package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the job journal.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		state       TEXT NOT NULL DEFAULT 'UNSUBMITTED',
		cluster_id  INTEGER,
		proc_id     INTEGER,
		work_dir    TEXT NOT NULL,
		log_path    TEXT NOT NULL,
		payload     TEXT NOT NULL DEFAULT '{}',
		hold_reason TEXT NOT NULL DEFAULT '',
		exit_code   INTEGER,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_scheduler_id ON jobs(cluster_id, proc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
