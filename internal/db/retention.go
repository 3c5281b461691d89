package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// PruneResult counts rows removed per table.
type PruneResult struct {
	Detections int64
	Headcounts int64
	QueueTimes int64
	JobRuns    int64
}

// Total returns the number of rows removed across all tables.
func (r PruneResult) Total() int64 {
	return r.Detections + r.Headcounts + r.QueueTimes + r.JobRuns
}

// Prune deletes every row older than before, in one transaction.
func (db *DB) Prune(ctx context.Context, before time.Time) (PruneResult, error) {
	var res PruneResult
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("warning: failed to rollback prune: %v", err)
		}
	}()

	cutoff := before.Unix()
	targets := []struct {
		query string
		n     *int64
	}{
		{`DELETE FROM raw_detections WHERE time_unix < ?`, &res.Detections},
		{`DELETE FROM headcount_samples WHERE time_unix < ?`, &res.Headcounts},
		{`DELETE FROM queue_time_records WHERE time_unix < ?`, &res.QueueTimes},
		{`DELETE FROM job_runs WHERE started_unix < ?`, &res.JobRuns},
	}
	for _, t := range targets {
		r, err := tx.ExecContext(ctx, t.query, cutoff)
		if err != nil {
			return PruneResult{}, fmt.Errorf("prune: %w", err)
		}
		if *t.n, err = r.RowsAffected(); err != nil {
			return PruneResult{}, fmt.Errorf("prune rows affected: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("commit prune: %w", err)
	}
	return res, nil
}

// RetentionWorker expires rows older than Retention. It realises the store's
// TTL; run it under a schedule.Supervisor at Interval.
type RetentionWorker struct {
	DB        *DB
	Retention time.Duration
	Interval  time.Duration
	Clock     timeutil.Clock
}

// NewRetentionWorker returns a worker that runs hourly.
func NewRetentionWorker(db *DB, retention time.Duration) *RetentionWorker {
	return &RetentionWorker{
		DB:        db,
		Retention: retention,
		Interval:  time.Hour,
		Clock:     timeutil.RealClock{},
	}
}

// RunOnce prunes everything older than now minus Retention.
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	cutoff := w.Clock.Now().Add(-w.Retention)
	res, err := w.DB.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	monitoring.RowsPruned.WithLabelValues("raw_detections").Add(float64(res.Detections))
	monitoring.RowsPruned.WithLabelValues("headcount_samples").Add(float64(res.Headcounts))
	monitoring.RowsPruned.WithLabelValues("queue_time_records").Add(float64(res.QueueTimes))
	monitoring.RowsPruned.WithLabelValues("job_runs").Add(float64(res.JobRuns))
	if res.Total() > 0 {
		monitoring.Logf("retention: pruned %d detections, %d headcounts, %d queue times, %d job runs older than %s",
			res.Detections, res.Headcounts, res.QueueTimes, res.JobRuns, cutoff.UTC().Format(time.RFC3339))
	}
	return nil
}
