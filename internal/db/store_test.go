package db

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustDevice(t *testing.T, hex string) probe.DeviceID {
	t.Helper()
	id, err := probe.DeviceIDFromHex(hex)
	if err != nil {
		t.Fatalf("DeviceIDFromHex(%q): %v", hex, err)
	}
	return id
}

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	latest, err := LatestMigrationVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d dirty=%v, want %d clean", version, dirty, latest)
	}

	// Reopening an up-to-date database is a no-op.
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Errorf("second MigrateUp: %v", err)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateDown(MigrationsFS()); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, _, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("version after down = %d, want 1", v)
	}
	if _, err := db.RecentJobRuns(context.Background(), "x", 1); err == nil {
		t.Error("job_runs should be gone after rolling back")
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if _, err := db.RecentJobRuns(context.Background(), "x", 1); err != nil {
		t.Errorf("job_runs missing after up: %v", err)
	}
}

func TestInsertDetections_Chunked(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := mustDevice(t, "A4C3F0112233")

	var dets []probe.Detection
	for i := 0; i < 2501; i++ {
		dets = append(dets, probe.Detection{
			Time: base.Add(time.Duration(i) * time.Second), Target: id, Receiver: 5, Strength: 40,
		})
	}
	n, err := db.InsertDetections(ctx, dets, 1000)
	if err != nil {
		t.Fatalf("InsertDetections: %v", err)
	}
	if n != 2501 {
		t.Errorf("written = %d, want 2501", n)
	}
	count, err := db.CountDetections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2501 {
		t.Errorf("CountDetections = %d, want 2501", count)
	}
}

func TestDetectionsBetween_InclusiveAndOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := mustDevice(t, "A4C3F0112233")
	b := mustDevice(t, "A4C3F0445566")

	dets := []probe.Detection{
		{Time: base.Add(20 * time.Second), Target: a, Receiver: 1, Strength: 30},
		{Time: base, Target: b, Receiver: 2, Strength: 31},
		{Time: base.Add(10 * time.Second), Target: a, Receiver: 3, Strength: 32},
		{Time: base.Add(10 * time.Second), Target: b, Receiver: 4, Strength: 33},
		{Time: base.Add(21 * time.Second), Target: a, Receiver: 1, Strength: 34},
	}
	if _, err := db.InsertDetections(ctx, dets, 0); err != nil {
		t.Fatal(err)
	}

	got, err := db.DetectionsBetween(ctx, base, base.Add(20*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	want := []probe.Detection{dets[1], dets[2], dets[3], dets[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectionsBetween mismatch (-want +got):\n%s", diff)
	}
}

func TestHeadcounts_RoundTripNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	south := []probe.HeadcountSample{
		{Time: base, Count: 3, Zones: []int{1, 0, 2, 0}},
		{Time: base.Add(5 * time.Second), Count: 4, Zones: []int{1, 1, 2, 0}},
	}
	north := []probe.HeadcountSample{{Time: base, Count: 7}}
	if err := db.InsertHeadcounts(ctx, "pplno_south", south, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertHeadcounts(ctx, "pplno_north", north, 1000); err != nil {
		t.Fatal(err)
	}

	got, err := db.LatestHeadcounts(ctx, "pplno_south", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []probe.HeadcountSample{south[1], south[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LatestHeadcounts mismatch (-want +got):\n%s", diff)
	}

	gotNorth, err := db.LatestHeadcounts(ctx, "pplno_north", 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(north, gotNorth); diff != "" {
		t.Errorf("north mismatch:\n%s", diff)
	}

	times, err := db.RecentHeadcountTimes(ctx, "pplno_south", base.Add(time.Second), 720)
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 1 || !times[0].Equal(base.Add(5*time.Second)) {
		t.Errorf("RecentHeadcountTimes = %v", times)
	}
}

func TestInsertHeadcounts_TooManyZones(t *testing.T) {
	db := newTestDB(t)
	err := db.InsertHeadcounts(context.Background(), "pplno_south",
		[]probe.HeadcountSample{{Time: base, Zones: []int{1, 2, 3, 4, 5}}}, 10)
	if err == nil {
		t.Error("expected error for five zones")
	}
}

func TestQueueTimes_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	coll := probe.QueueTimeCollection("B91M", probe.Current)

	r1 := probe.QueueTimeRecord{Time: base, Buckets: [5]int{1, 2, 3, 4, 5}}
	r2 := probe.QueueTimeRecord{Time: base.Add(time.Minute), Buckets: [5]int{0, 0, 0, 0, 1}}
	for _, r := range []probe.QueueTimeRecord{r1, r2} {
		if err := db.InsertQueueTime(ctx, coll, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.LatestQueueTimes(ctx, coll, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]probe.QueueTimeRecord{r2}, got); diff != "" {
		t.Errorf("LatestQueueTimes mismatch:\n%s", diff)
	}

	times, err := db.RecentQueueTimes(ctx, coll, base, 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 2 || !times[0].Equal(r2.Time) {
		t.Errorf("RecentQueueTimes = %v", times)
	}

	colls, err := db.Collections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{coll}, colls); diff != "" {
		t.Errorf("Collections mismatch:\n%s", diff)
	}
	n, err := db.CountRecords(ctx, coll)
	if err != nil || n != 2 {
		t.Errorf("CountRecords = %d, %v; want 2", n, err)
	}
}

func TestJobRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	runs := []JobRun{
		{RunID: "a", Job: "south", Trigger: "initial", StartedAt: base, DurationMs: 12},
		{RunID: "b", Job: "south", Trigger: "periodic", StartedAt: base.Add(time.Minute), DurationMs: 7, Error: "boom"},
		{RunID: "c", Job: "north", Trigger: "initial", StartedAt: base, DurationMs: 3},
	}
	for _, r := range runs {
		if err := db.RecordJobRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.RecentJobRuns(ctx, "south", 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]JobRun{runs[1], runs[0]}, got); diff != "" {
		t.Errorf("RecentJobRuns mismatch:\n%s", diff)
	}
}

func TestRetentionWorker_PrunesOldRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := mustDevice(t, "A4C3F0112233")
	now := base.Add(200 * time.Hour)

	old := probe.Detection{Time: now.Add(-177 * time.Hour), Target: id, Receiver: 1, Strength: 40}
	fresh := probe.Detection{Time: now.Add(-time.Hour), Target: id, Receiver: 1, Strength: 40}
	if _, err := db.InsertDetections(ctx, []probe.Detection{old, fresh}, 10); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertHeadcounts(ctx, "pplno_north", []probe.HeadcountSample{
		{Time: old.Time, Count: 1}, {Time: fresh.Time, Count: 2},
	}, 10); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertQueueTime(ctx, "qtd_current_north", probe.QueueTimeRecord{Time: old.Time}); err != nil {
		t.Fatal(err)
	}

	w := NewRetentionWorker(db, 176*time.Hour)
	w.Clock = timeutil.NewMockClock(now)
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	dets, err := db.DetectionsBetween(ctx, time.Unix(0, 0), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 1 || !dets[0].Time.Equal(fresh.Time) {
		t.Errorf("detections after prune = %v", dets)
	}
	if n, _ := db.CountRecords(ctx, "pplno_north"); n != 1 {
		t.Errorf("headcounts after prune = %d, want 1", n)
	}
	if n, _ := db.CountRecords(ctx, "qtd_current_north"); n != 0 {
		t.Errorf("queue times after prune = %d, want 0", n)
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"up"}, path, &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out.String(), "up to date") {
		t.Errorf("status output missing 'up to date':\n%s", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"down"}, path, &out); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if !strings.Contains(out.String(), "behind") {
		t.Errorf("status output after down:\n%s", out.String())
	}

	err := RunMigrateCommand([]string{"sideways"}, path, &out)
	if !errors.Is(err, ErrUnknownMigrateAction) {
		t.Errorf("unknown action err = %v", err)
	}
	if err := RunMigrateCommand([]string{"version", "x"}, path, &out); err == nil {
		t.Error("expected error for non-numeric version")
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	// gzip magic
	if b := rec.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Error("backup body is not gzip")
	}
}
