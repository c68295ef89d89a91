package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/htjob/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// JobChanged journals rec. It lets the store observe a job.Runtime.
func (s *SQLiteStore) JobChanged(ctx context.Context, rec model.JobRecord) error {
	return s.UpsertJob(ctx, &rec)
}

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, kind, state, cluster_id, proc_id, work_dir, log_path, payload, hold_reason, exit_code, created_at, updated_at`

// UpsertJob inserts rec or updates the existing row with the same id.
// created_at is never overwritten.
func (s *SQLiteStore) UpsertJob(ctx context.Context, rec *model.JobRecord) error {
	s.logger.Debug("sql", "op", "upsert", "table", "jobs", "id", rec.ID, "state", rec.State)

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var cluster, proc sql.NullInt64
	if rec.SchedulerID != nil {
		cluster = sql.NullInt64{Int64: int64(rec.SchedulerID.Cluster), Valid: true}
		proc = sql.NullInt64{Int64: int64(rec.SchedulerID.Proc), Valid: true}
	}
	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			state = excluded.state,
			cluster_id = excluded.cluster_id,
			proc_id = excluded.proc_id,
			work_dir = excluded.work_dir,
			log_path = excluded.log_path,
			payload = excluded.payload,
			hold_reason = excluded.hold_reason,
			exit_code = excluded.exit_code,
			updated_at = excluded.updated_at`,
		rec.ID, string(rec.Kind), string(rec.State), cluster, proc,
		rec.WorkDir, rec.LogPath, string(payloadJSON), rec.HoldReason, exitCode,
		created.UTC().Format(timeLayout), updated.UTC().Format(timeLayout),
	)
	return err
}

// GetJob returns the record with id, or nil if there is none.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanOne(row)
}

// GetJobBySchedulerID returns the most recent record submitted as id, or nil.
func (s *SQLiteStore) GetJobBySchedulerID(ctx context.Context, id model.JobID) (*model.JobRecord, error) {
	s.logger.Debug("sql", "op", "select_by_scheduler_id", "table", "jobs", "job_id", id.String())
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE cluster_id = ? AND proc_id = ?
		 ORDER BY updated_at DESC LIMIT 1`, id.Cluster, id.Proc)
	return scanOne(row)
}

// ListJobs returns a page of records, newest first, and the total count
// matching the filter.
func (s *SQLiteStore) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.JobRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", opts.Limit, "offset", opts.Offset, "state", opts.State)
	opts.Clamp()

	where, args := "", []any{}
	if opts.State != "" {
		where = ` WHERE state = ?`
		args = append(args, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, rec)
	}
	return jobs, total, rows.Err()
}

// MaxClusterID returns the highest scheduler cluster id in the journal, or
// 0 when no job has been submitted.
func (s *SQLiteStore) MaxClusterID(ctx context.Context) (int, error) {
	s.logger.Debug("sql", "op", "max_cluster_id", "table", "jobs")
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(cluster_id), 0) FROM jobs`).Scan(&n)
	return n, err
}

// DeleteJob removes the record with id. Deleting a missing record is not
// an error.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "jobs", "id", id)
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*model.JobRecord, error) {
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanJob(sc scanner) (*model.JobRecord, error) {
	var (
		rec                  model.JobRecord
		kind, state, payload string
		cluster, proc, exit  sql.NullInt64
		createdAt, updatedAt string
	)
	if err := sc.Scan(&rec.ID, &kind, &state, &cluster, &proc, &rec.WorkDir, &rec.LogPath,
		&payload, &rec.HoldReason, &exit, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.PayloadKind(kind)
	rec.State = model.JobState(state)
	if cluster.Valid && proc.Valid {
		rec.SchedulerID = &model.JobID{Cluster: int(cluster.Int64), Proc: int(proc.Int64)}
	}
	if exit.Valid {
		code := int(exit.Int64)
		rec.ExitCode = &code
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &rec, nil
}
