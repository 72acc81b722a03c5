package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/webgen/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    seq        INTEGER NOT NULL,
    workspace  TEXT NOT NULL,
    pid        INTEGER NOT NULL DEFAULT 0,
    pgid       INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    deleted_at DATETIME
)`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS job_events (
    id         TEXT PRIMARY KEY,
    job_id     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`

const createEventsIndex = `CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events (job_id)`

// ErrNotFound is returned when a job is not in the index.
var ErrNotFound = errors.New("job not found in index")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJobsTable, createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordJob inserts a job. Recording an id that is already indexed replaces
// the old row, which only happens when a workspace id is issued again after
// the index was lost.
func (s *SQLiteStore) RecordJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, seq, workspace, pid, pgid, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			workspace = excluded.workspace,
			pid = excluded.pid,
			pgid = excluded.pgid,
			created_at = excluded.created_at,
			deleted_at = NULL`,
		j.ID, j.Seq, j.Workspace, j.PID, j.PGID, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j := &model.Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seq, workspace, pid, pgid, created_at, deleted_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Seq, &j.Workspace, &j.PID, &j.PGID, &j.CreatedAt, &j.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a page of jobs, newest first, along with the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, seq, workspace, pid, pgid, created_at, deleted_at
		FROM jobs ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		if err := rows.Scan(&j.ID, &j.Seq, &j.Workspace, &j.PID, &j.PGID, &j.CreatedAt, &j.DeletedAt); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// MarkDeleted stamps deleted_at on a job.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark job deleted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxSeq returns the highest sequence number ever recorded, deleted jobs
// included, or zero for an empty index.
func (s *SQLiteStore) MaxSeq(ctx context.Context) (int, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM jobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return int(n.Int64), nil
}

// GetJobStats returns job counts.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM jobs`,
	).Scan(&stats.Total, &stats.Live, &stats.Deleted)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// AppendEvent records a lifecycle event. A missing ID or timestamp is filled in.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (id, job_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.Kind, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a job in the order they were recorded.
// ULIDs sort by creation time, so ordering by id is chronological.
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, kind, detail, created_at
		FROM job_events WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
