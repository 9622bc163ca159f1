// Package history keeps a SQLite log of every deployment attempt.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// History manages deployment history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (creating if needed) the history database at dbPath
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL,
			job TEXT NOT NULL,
			build_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			kind TEXT,
			target TEXT,
			release TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_id
		ON deployments(job, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, deployment_id, job, build_number, status, kind, target, release,
	       started_at, completed_at, duration_seconds, error_message
	FROM deployments`

// RecordDeployment stores a finished deployment attempt and returns its row ID.
// A zero StartedAt is recorded as now.
func (h *History) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	now := time.Now().UTC()

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	completedAt := now
	if record.CompletedAt != nil {
		completedAt = *record.CompletedAt
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(deployment_id, job, build_number, status, kind, target, release,
		 started_at, completed_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeploymentID,
		record.Job,
		record.BuildNumber,
		record.Status,
		record.Kind,
		record.Target,
		record.Release,
		startedAt.UTC().Format(time.RFC3339Nano),
		completedAt.UTC().Format(time.RFC3339Nano),
		record.DurationSeconds,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestDeployment returns the most recent deployment of a job, or nil
func (h *History) GetLatestDeployment(ctx context.Context, job string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+`
		WHERE job = ?
		ORDER BY id DESC
		LIMIT 1
	`, job)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns up to limit deployments, newest first.
// An empty job returns deployments of every job.
func (h *History) GetDeploymentHistory(ctx context.Context, job string, limit int) ([]DeploymentRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if job == "" {
		rows, err = h.db.QueryContext(ctx, selectColumns+`
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = h.db.QueryContext(ctx, selectColumns+`
			WHERE job = ?
			ORDER BY id DESC
			LIMIT ?
		`, job, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}

	return collect(rows)
}

// LastPublished returns up to limit successfully published deployments,
// newest first. Rollback walks this list.
func (h *History) LastPublished(ctx context.Context, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, selectColumns+`
		WHERE status = ? AND release IS NOT NULL
		ORDER BY id DESC
		LIMIT ?
	`, StatusPublished, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query published deployments: %w", err)
	}

	return collect(rows)
}

// GetAllJobsStatus returns the latest deployment for each job
func (h *History) GetAllJobsStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT d1.id, d1.deployment_id, d1.job, d1.build_number, d1.status, d1.kind,
		       d1.target, d1.release, d1.started_at, d1.completed_at,
		       d1.duration_seconds, d1.error_message
		FROM deployments d1
		INNER JOIN (
			SELECT job, MAX(id) AS max_id
			FROM deployments
			GROUP BY job
		) d2
		ON d1.id = d2.max_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all jobs status: %w", err)
	}

	records, err := collect(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*DeploymentRecord, len(records))
	for i := range records {
		result[records[i].Job] = &records[i]
	}
	return result, nil
}

func collect(rows *sql.Rows) ([]DeploymentRecord, error) {
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDeploymentRecord scans a database row into a DeploymentRecord
func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.Job,
		&record.BuildNumber,
		&record.Status,
		&record.Kind,
		&record.Target,
		&record.Release,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
