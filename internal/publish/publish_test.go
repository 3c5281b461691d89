package publish

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/db"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestPublisher(t *testing.T) (*Publisher, *db.DB, *timeutil.MockClock) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := timeutil.NewMockClock(t0.Add(10 * time.Minute))
	return New(store, config.DefaultConfig(), clock), store, clock
}

func series(from, to int) []probe.HeadcountSample {
	var out []probe.HeadcountSample
	for s := from; s <= to; s += 5 {
		out = append(out, probe.HeadcountSample{Time: t0.Add(time.Duration(s) * time.Second), Count: s % 3})
	}
	return out
}

func TestPublishHeadcountsIsIdempotent(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	const coll = "pplno_north"

	n, err := p.PublishHeadcounts(ctx, coll, series(0, 300))
	require.NoError(t, err)
	assert.Equal(t, 61, n)

	n, err = p.PublishHeadcounts(ctx, coll, series(0, 300))
	require.NoError(t, err)
	assert.Zero(t, n, "identical input writes nothing")

	// An overlapping window only adds the new tail.
	n, err = p.PublishHeadcounts(ctx, coll, series(200, 400))
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	count, err := store.CountRecords(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, 81, count)

	latest, err := store.LatestHeadcounts(ctx, coll, 1000)
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, s := range latest {
		assert.False(t, seen[s.Time.Unix()], "timestamp %v written twice", s.Time)
		seen[s.Time.Unix()] = true
	}
}

func TestPublishHeadcountsNeverGoesBackwards(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	const coll = "pplno_south"

	_, err := p.PublishHeadcounts(ctx, coll, series(100, 200))
	require.NoError(t, err)
	// Earlier timestamps that were never stored are still older than the
	// latest row.
	n, err := p.PublishHeadcounts(ctx, coll, series(0, 205))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.CountRecords(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, 22, count)
}

func TestPublishHeadcountsLookbackUsesClock(t *testing.T) {
	p, _, clock := newTestPublisher(t)
	ctx := context.Background()
	const coll = "pplno_north"

	_, err := p.PublishHeadcounts(ctx, coll, series(0, 10))
	require.NoError(t, err)

	// Two hours later the stored rows are outside the dedup window.
	clock.Advance(2 * time.Hour)
	n, err := p.PublishHeadcounts(ctx, coll, series(0, 10))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPublishQueueTime(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	coll := probe.QueueTimeCollection("B91M", probe.Current)

	rec := probe.QueueTimeRecord{Time: t0.Add(5 * time.Minute), Buckets: [probe.NumBuckets]int{2, 1, 0, 0, 0}}
	ok, err := p.PublishQueueTime(ctx, coll, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.PublishQueueTime(ctx, coll, rec)
	require.NoError(t, err)
	assert.False(t, ok, "same minute is suppressed")

	rec.Time = rec.Time.Add(time.Minute)
	ok, err = p.PublishQueueTime(ctx, coll, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.LatestQueueTimes(ctx, coll, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, t0.Add(6*time.Minute), got[0].Time)
	assert.Equal(t, rec.Buckets, got[0].Buckets)
}

type brokenStore struct{ Store }

func (brokenStore) RecentHeadcountTimes(context.Context, string, time.Time, int) ([]time.Time, error) {
	return nil, errors.New("database is locked")
}

func (brokenStore) RecentQueueTimes(context.Context, string, time.Time, int) ([]time.Time, error) {
	return nil, errors.New("database is locked")
}

func TestPublishReadErrors(t *testing.T) {
	p := New(brokenStore{}, config.DefaultConfig(), timeutil.NewMockClock(t0))
	_, err := p.PublishHeadcounts(context.Background(), "pplno_north", series(0, 10))
	assert.ErrorContains(t, err, "database is locked")
	_, err = p.PublishQueueTime(context.Background(), "qtd_current_north", probe.QueueTimeRecord{Time: t0})
	assert.ErrorContains(t, err, "database is locked")

	n, err := p.PublishHeadcounts(context.Background(), "pplno_north", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
