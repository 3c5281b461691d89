package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobRun is one persisted supervised-loop cycle.
type JobRun struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// RecordJobRun stores a finished run.
func (db *DB) RecordJobRun(ctx context.Context, run JobRun) error {
	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO job_runs (run_id, job, trigger, started_unix, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Job, run.Trigger, run.StartedAt.Unix(), run.DurationMs, errText)
	if err != nil {
		return fmt.Errorf("record job run %s: %w", run.RunID, err)
	}
	return nil
}

// RecentJobRuns returns up to limit runs of a job, newest first.
func (db *DB) RecentJobRuns(ctx context.Context, job string, limit int) ([]JobRun, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, job, trigger, started_unix, duration_ms, error
		   FROM job_runs
		  WHERE job = ?
		  ORDER BY started_unix DESC, rowid DESC LIMIT ?`,
		job, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var (
			r       JobRun
			started int64
			errText sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Job, &r.Trigger, &started, &r.DurationMs, &errText); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		r.StartedAt = unixTime(started)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}
