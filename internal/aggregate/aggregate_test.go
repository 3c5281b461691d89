package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/queue.report/internal/presence"
	"github.com/banshee-data/queue.report/internal/probe"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sec(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

// span builds a single-segment series covering seconds from..to inclusive.
func span(dev string, zone, from, to int) presence.Series {
	return presence.Series{
		Device:   dev,
		Zone:     zone,
		Segments: []presence.Segment{{Start: sec(from), Vectors: make([]presence.Vector, to-from+1)}},
	}
}

func TestBucketBoundaries(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0-5"},
		{5*time.Minute - time.Second, "0-5"},
		{5 * time.Minute, "5-10"},
		{10 * time.Minute, "10-15"},
		{15 * time.Minute, "15-20"},
		{20 * time.Minute, "20+"},
		{3 * time.Hour, "20+"},
	}
	for _, tt := range tests {
		if got := BucketFor(tt.d).String(); got != tt.want {
			t.Errorf("BucketFor(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestHeadcountSingleGate(t *testing.T) {
	res := presence.Result{
		ServerTime: sec(600),
		Devices:    []presence.Series{span("A", 0, 3, 210), span("B", 0, 100, 300)},
	}
	got := Headcount(res, 0, 30*time.Minute, 5*time.Second)
	require.Len(t, got, 121)
	assert.Equal(t, sec(0), got[0].Time, "grid is aligned, first bucket takes the first present second")
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, 2, got[20].Count) // second 100
	assert.Equal(t, 2, got[42].Count) // second 210
	assert.Equal(t, 1, got[43].Count)
	assert.Equal(t, 0, got[61].Count) // second 305
	assert.Equal(t, sec(600), got[120].Time)
	assert.Equal(t, 0, got[120].Count, "series extends to the server time")
	for _, s := range got {
		assert.Nil(t, s.Zones)
		assert.Zero(t, s.Unassigned)
	}
}

func TestHeadcountTakesFirstOccupiedSecond(t *testing.T) {
	res := presence.Result{
		ServerTime: sec(400),
		Devices:    []presence.Series{span("A", 0, 0, 100), span("B", 0, 202, 400)},
	}
	got := Headcount(res, 0, 30*time.Minute, 5*time.Second)
	require.Len(t, got, 81)
	assert.Equal(t, 1, got[20].Count) // second 100, A's last
	assert.Equal(t, 0, got[21].Count)
	assert.Equal(t, 0, got[39].Count)
	assert.Equal(t, sec(200), got[40].Time)
	assert.Equal(t, 1, got[40].Count, "B arrives at 202, inside the bucket starting at 200")
	assert.Equal(t, 1, got[80].Count)
}

func TestHeadcountByZone(t *testing.T) {
	res := presence.Result{
		ServerTime: sec(60),
		Zoned:      true,
		Devices: []presence.Series{
			span("A", 1, 0, 60),
			span("B", 3, 0, 30),
			span("C", 3, 10, 60),
		},
	}
	got := Headcount(res, 4, 30*time.Minute, 5*time.Second)
	require.Len(t, got, 13)
	assert.Equal(t, probe.HeadcountSample{Time: sec(10), Count: 3, Zones: []int{1, 0, 2, 0}}, got[2])
	assert.Equal(t, probe.HeadcountSample{Time: sec(60), Count: 2, Zones: []int{1, 0, 1, 0}}, got[12])
}

func TestHeadcountNoDevices(t *testing.T) {
	server := sec(1800).Add(700 * time.Millisecond)
	got := Headcount(presence.Result{ServerTime: server}, 4, 30*time.Minute, 5*time.Second)
	require.Len(t, got, 361)
	assert.Equal(t, sec(0), got[0].Time)
	assert.Equal(t, sec(1800), got[360].Time)
	for _, s := range got {
		assert.Zero(t, s.Count)
		assert.Equal(t, []int{0, 0, 0, 0}, s.Zones)
	}
}

func TestQueueTimesCurrentAndBoarded(t *testing.T) {
	res := presence.Result{
		ServerTime: sec(630),
		Devices: []presence.Series{
			span("A", 0, 0, 210),   // left long ago, under 5 minutes
			span("B", 0, 200, 600), // still present, 6m40s
			span("C", 0, 300, 570), // last seen exactly a cycle before the server time
		},
	}
	got := QueueTimes(res, 0, 60*time.Second)
	require.Len(t, got, 2)

	assert.Equal(t, probe.Current, got[0].Category)
	assert.Equal(t, presence.Unassigned, got[0].Zone)
	assert.Equal(t, sec(600), got[0].Record.Time, "stamped at the server minute")
	assert.Equal(t, [probe.NumBuckets]int{1, 1, 0, 0, 0}, got[0].Record.Buckets)

	assert.Equal(t, probe.Boarded, got[1].Category)
	assert.Equal(t, [probe.NumBuckets]int{1, 0, 0, 0, 0}, got[1].Record.Buckets)
}

func TestQueueTimesFiveMinutesExactly(t *testing.T) {
	res := presence.Result{ServerTime: sec(300), Devices: []presence.Series{span("A", 0, 0, 300)}}
	got := QueueTimes(res, 0, time.Minute)
	assert.Equal(t, [probe.NumBuckets]int{0, 1, 0, 0, 0}, got[0].Record.Buckets)
}

func TestQueueTimesByZoneAlwaysComplete(t *testing.T) {
	res := presence.Result{
		ServerTime: sec(300),
		Zoned:      true,
		Devices:    []presence.Series{span("A", 2, 0, 300)},
	}
	got := QueueTimes(res, 4, time.Minute)
	require.Len(t, got, 8)
	for i, q := range got {
		wantCat := probe.Current
		if i >= 4 {
			wantCat = probe.Boarded
		}
		assert.Equal(t, wantCat, q.Category)
		assert.Equal(t, i%4+1, q.Zone)
		if q.Zone == 2 && q.Category == probe.Current {
			assert.Equal(t, 1, q.Record.Total())
		} else {
			assert.Zero(t, q.Record.Total())
		}
	}

	empty := QueueTimes(presence.Result{ServerTime: sec(300)}, 4, time.Minute)
	require.Len(t, empty, 8)
	for _, q := range empty {
		assert.Zero(t, q.Record.Total())
		assert.Equal(t, sec(300), q.Record.Time)
	}
}
