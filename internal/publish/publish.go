// Package publish writes aggregated records, dropping any that the store
// already holds. Overlapping read windows recompute the same timestamps every
// cycle; deduplication is checked against the store's own recent rows so it
// survives restarts.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// Store is the subset of the record store the publisher needs. Recent*Times
// return timestamps at or after since, newest first.
type Store interface {
	RecentHeadcountTimes(ctx context.Context, collection string, since time.Time, limit int) ([]time.Time, error)
	InsertHeadcounts(ctx context.Context, collection string, samples []probe.HeadcountSample, batchSize int) error
	RecentQueueTimes(ctx context.Context, collection string, since time.Time, limit int) ([]time.Time, error)
	InsertQueueTime(ctx context.Context, collection string, rec probe.QueueTimeRecord) error
}

// Publisher deduplicates and writes records.
type Publisher struct {
	Store          Store
	Clock          timeutil.Clock
	Lookback       time.Duration
	HeadcountLimit int
	QueueLimit     int
	BatchSize      int
}

// New returns a Publisher configured from cfg.
func New(store Store, cfg *config.Config, clock timeutil.Clock) *Publisher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Publisher{
		Store:          store,
		Clock:          clock,
		Lookback:       cfg.GetDedupLookback(),
		HeadcountLimit: cfg.GetHeadcountDedupLimit(),
		QueueLimit:     cfg.GetQueueDedupLimit(),
		BatchSize:      cfg.GetBatchSize(),
	}
}

func (p *Publisher) since() time.Time {
	return p.Clock.Now().Add(-p.Lookback)
}

// PublishHeadcounts writes the samples whose timestamps are not already in
// the collection's recent history and are newer than its latest row, and
// returns how many were written. Samples must be in ascending time order.
func (p *Publisher) PublishHeadcounts(ctx context.Context, collection string, samples []probe.HeadcountSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	recent, err := p.Store.RecentHeadcountTimes(ctx, collection, p.since(), p.HeadcountLimit)
	if err != nil {
		return 0, fmt.Errorf("read recent %s: %w", collection, err)
	}

	fresh := samples
	if len(recent) > 0 {
		seen := make(map[int64]bool, len(recent))
		latest := recent[0]
		for _, t := range recent {
			seen[t.Unix()] = true
			if t.After(latest) {
				latest = t
			}
		}
		fresh = make([]probe.HeadcountSample, 0, len(samples))
		for _, s := range samples {
			if seen[s.Time.Unix()] || !s.Time.After(latest) {
				continue
			}
			fresh = append(fresh, s)
		}
	}

	if dropped := len(samples) - len(fresh); dropped > 0 {
		monitoring.RecordsSuppressed.WithLabelValues(collection).Add(float64(dropped))
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := p.Store.InsertHeadcounts(ctx, collection, fresh, p.BatchSize); err != nil {
		return 0, err
	}
	monitoring.RecordsPublished.WithLabelValues(collection).Add(float64(len(fresh)))
	return len(fresh), nil
}

// PublishQueueTime appends rec unless its timestamp is not newer than the
// collection's most recent row. It reports whether the record was written.
func (p *Publisher) PublishQueueTime(ctx context.Context, collection string, rec probe.QueueTimeRecord) (bool, error) {
	recent, err := p.Store.RecentQueueTimes(ctx, collection, p.since(), p.QueueLimit)
	if err != nil {
		return false, fmt.Errorf("read recent %s: %w", collection, err)
	}
	for _, t := range recent {
		if !rec.Time.After(t) {
			monitoring.RecordsSuppressed.WithLabelValues(collection).Inc()
			return false, nil
		}
	}
	if err := p.Store.InsertQueueTime(ctx, collection, rec); err != nil {
		return false, err
	}
	monitoring.RecordsPublished.WithLabelValues(collection).Inc()
	return true, nil
}
