package noise

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/queue.report/internal/lists"
	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// DetectionSource reads stored detections in ascending time order.
type DetectionSource interface {
	DetectionsBetween(ctx context.Context, start, end time.Time) ([]probe.Detection, error)
}

// Miner rebuilds the denylist from the trailing ReadInterval of history.
type Miner struct {
	Source        DetectionSource
	AllowListPath string
	DenyListPath  string
	ReadInterval  time.Duration
	Params        Params
	Clock         timeutil.Clock
}

// MinerResult summarises one cycle.
type MinerResult struct {
	Detections int
	Noise      int
	Skipped    bool // no detections in the window; denylist left as is
}

// RunOnce runs one mining cycle. Any error leaves the existing denylist
// untouched.
func (m *Miner) RunOnce(ctx context.Context) (MinerResult, error) {
	clock := m.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	end := clock.Now()
	start := end.Add(-m.ReadInterval)

	dets, err := m.Source.DetectionsBetween(ctx, start, end)
	if err != nil {
		return MinerResult{}, fmt.Errorf("read detections: %w", err)
	}
	if len(dets) == 0 {
		monitoring.Logf("noise: no detections between %s and %s, keeping current denylist",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
		return MinerResult{Skipped: true}, nil
	}

	allow, err := lists.LoadAllowList(m.AllowListPath)
	if err != nil {
		return MinerResult{}, err
	}
	readings, skipped := probe.Decode(dets)
	if skipped > 0 {
		monitoring.Logf("noise: skipped %d detections with undecodable device ids", skipped)
	}

	devices := FindNoise(readings, allow, m.Params)
	if err := lists.SaveDenyList(m.DenyListPath, devices); err != nil {
		return MinerResult{}, err
	}
	monitoring.DenylistSize.Set(float64(len(devices)))
	monitoring.Logf("noise: %d detections, %d devices denylisted", len(dets), len(devices))
	return MinerResult{Detections: len(dets), Noise: len(devices)}, nil
}
