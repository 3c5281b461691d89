package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/queue.report/internal/probe"
)

// maxZones is the number of zone columns in headcount_samples.
const maxZones = 4

func (db *DB) recentTimes(ctx context.Context, table, collection string, since time.Time, limit int) ([]time.Time, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT time_unix FROM `+table+`
		  WHERE collection = ? AND time_unix >= ?
		  ORDER BY time_unix DESC LIMIT ?`,
		collection, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s times: %w", table, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan %s time: %w", table, err)
		}
		out = append(out, unixTime(ts))
	}
	return out, rows.Err()
}

// RecentHeadcountTimes returns up to limit stored headcount timestamps at or
// after since, newest first.
func (db *DB) RecentHeadcountTimes(ctx context.Context, collection string, since time.Time, limit int) ([]time.Time, error) {
	return db.recentTimes(ctx, "headcount_samples", collection, since, limit)
}

// RecentQueueTimes returns up to limit stored queue-time record timestamps at
// or after since, newest first.
func (db *DB) RecentQueueTimes(ctx context.Context, collection string, since time.Time, limit int) ([]time.Time, error) {
	return db.recentTimes(ctx, "queue_time_records", collection, since, limit)
}

// InsertHeadcounts appends samples to a headcount collection in chunks of
// batchSize rows.
func (db *DB) InsertHeadcounts(ctx context.Context, collection string, samples []probe.HeadcountSample, batchSize int) error {
	return chunks(samples, batchSize, func(batch []probe.HeadcountSample) error {
		args := make([]any, 0, len(batch)*8)
		for _, s := range batch {
			if len(s.Zones) > maxZones {
				return fmt.Errorf("headcount sample has %d zones, max %d", len(s.Zones), maxZones)
			}
			args = append(args, collection, s.Time.Unix(), s.Count)
			for z := 0; z < maxZones; z++ {
				if z < len(s.Zones) {
					args = append(args, s.Zones[z])
				} else {
					args = append(args, nil)
				}
			}
			args = append(args, s.Unassigned)
		}
		q := `INSERT INTO headcount_samples
			(collection, time_unix, count, zone_1, zone_2, zone_3, zone_4, unassigned)
			VALUES ` + placeholders(len(batch), 8)
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %d headcount samples into %s: %w", len(batch), collection, err)
		}
		return nil
	})
}

// LatestHeadcounts returns up to limit samples from a collection, newest first.
func (db *DB) LatestHeadcounts(ctx context.Context, collection string, limit int) ([]probe.HeadcountSample, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT time_unix, count, zone_1, zone_2, zone_3, zone_4, unassigned
		   FROM headcount_samples
		  WHERE collection = ?
		  ORDER BY time_unix DESC, rowid DESC LIMIT ?`,
		collection, limit)
	if err != nil {
		return nil, fmt.Errorf("query headcounts: %w", err)
	}
	defer rows.Close()

	var out []probe.HeadcountSample
	for rows.Next() {
		var (
			ts    int64
			s     probe.HeadcountSample
			zones [maxZones]sql.NullInt64
		)
		if err := rows.Scan(&ts, &s.Count, &zones[0], &zones[1], &zones[2], &zones[3], &s.Unassigned); err != nil {
			return nil, fmt.Errorf("scan headcount: %w", err)
		}
		s.Time = unixTime(ts)
		for _, z := range zones {
			if !z.Valid {
				break
			}
			s.Zones = append(s.Zones, int(z.Int64))
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertQueueTime appends one record to a queue-time collection.
func (db *DB) InsertQueueTime(ctx context.Context, collection string, rec probe.QueueTimeRecord) error {
	b := rec.Buckets
	_, err := db.ExecContext(ctx,
		`INSERT INTO queue_time_records
			(collection, time_unix, bucket_0_5, bucket_5_10, bucket_10_15, bucket_15_20, bucket_20_up)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collection, rec.Time.Unix(), b[0], b[1], b[2], b[3], b[4])
	if err != nil {
		return fmt.Errorf("insert queue time into %s: %w", collection, err)
	}
	return nil
}

// LatestQueueTimes returns up to limit records from a collection, newest first.
func (db *DB) LatestQueueTimes(ctx context.Context, collection string, limit int) ([]probe.QueueTimeRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT time_unix, bucket_0_5, bucket_5_10, bucket_10_15, bucket_15_20, bucket_20_up
		   FROM queue_time_records
		  WHERE collection = ?
		  ORDER BY time_unix DESC, rowid DESC LIMIT ?`,
		collection, limit)
	if err != nil {
		return nil, fmt.Errorf("query queue times: %w", err)
	}
	defer rows.Close()

	var out []probe.QueueTimeRecord
	for rows.Next() {
		var (
			ts int64
			r  probe.QueueTimeRecord
		)
		if err := rows.Scan(&ts, &r.Buckets[0], &r.Buckets[1], &r.Buckets[2], &r.Buckets[3], &r.Buckets[4]); err != nil {
			return nil, fmt.Errorf("scan queue time: %w", err)
		}
		r.Time = unixTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Collections lists every collection that holds at least one record.
func (db *DB) Collections(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT collection FROM headcount_samples
		 UNION
		 SELECT collection FROM queue_time_records
		 ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// CountRecords returns the number of stored rows in a collection.
func (db *DB) CountRecords(ctx context.Context, collection string) (int, error) {
	table := "queue_time_records"
	if probe.IsHeadcountCollection(collection) {
		table = "headcount_samples"
	}
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}
