package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/queue.report/internal/probe"
)

// DefaultBatchSize bounds the rows written per multi-row INSERT.
const DefaultBatchSize = 1000

// chunks calls fn for each consecutive slice of at most size items.
func chunks[T any](items []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", cols), ",") + ")"
	return strings.TrimSuffix(strings.Repeat(row+",", rows), ",")
}

// InsertDetections appends detections in chunks of batchSize rows. Each chunk
// is its own statement; a failing chunk stops the insert and earlier chunks
// stay written.
func (db *DB) InsertDetections(ctx context.Context, dets []probe.Detection, batchSize int) (int, error) {
	written := 0
	err := chunks(dets, batchSize, func(batch []probe.Detection) error {
		args := make([]any, 0, len(batch)*4)
		for _, d := range batch {
			args = append(args, d.Time.Unix(), string(d.Target), d.Receiver, d.Strength)
		}
		q := `INSERT INTO raw_detections (time_unix, target, receiver, strength) VALUES ` + placeholders(len(batch), 4)
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %d detections: %w", len(batch), err)
		}
		written += len(batch)
		return nil
	})
	return written, err
}

// DetectionsBetween returns detections with start <= time <= end, ascending by
// time and then by insertion order.
func (db *DB) DetectionsBetween(ctx context.Context, start, end time.Time) ([]probe.Detection, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT time_unix, target, receiver, strength
		   FROM raw_detections
		  WHERE time_unix >= ? AND time_unix <= ?
		  ORDER BY time_unix ASC, rowid ASC`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []probe.Detection
	for rows.Next() {
		var (
			ts     int64
			target string
			d      probe.Detection
		)
		if err := rows.Scan(&ts, &target, &d.Receiver, &d.Strength); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.Time = unixTime(ts)
		d.Target = probe.DeviceID(target)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDetections returns the number of stored raw detections.
func (db *DB) CountDetections(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_detections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}
