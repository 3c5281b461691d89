// Package pipeline runs one gate's processing cycle: read the trailing window
// of detections, reconstruct presence, aggregate and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/queue.report/internal/aggregate"
	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/lists"
	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/presence"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/publish"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// ErrNoClassifier is returned when a gate with zones has no zone classifier.
var ErrNoClassifier = errors.New("gate has zones but no zone classifier")

// Store is the storage a pipeline reads detections from and publishes to.
type Store interface {
	DetectionsBetween(ctx context.Context, start, end time.Time) ([]probe.Detection, error)
	publish.Store
}

// Pipeline processes one gate. Cycles hold no state between runs.
type Pipeline struct {
	Gate          string
	Zones         []string // zone labels; empty for gates without zones
	Store         Store
	Reconstructor *presence.Reconstructor
	Publisher     *publish.Publisher
	AllowListPath string
	DenyListPath  string
	ReadInterval  time.Duration
	Cycle         time.Duration
	HeadcountStep time.Duration
	Clock         timeutil.Clock
}

// New builds the pipeline for gate. The south gate classifies devices into
// zones and needs clf; the north gate ignores it.
func New(cfg *config.Config, gate string, store Store, clf presence.ZoneClassifier, clock timeutil.Clock) (*Pipeline, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &Pipeline{
		Gate:          gate,
		Store:         store,
		Reconstructor: &presence.Reconstructor{Params: presence.ParamsFromConfig(cfg, gate)},
		Publisher:     publish.New(store, cfg, clock),
		AllowListPath: cfg.GetAllowlistPath(),
		DenyListPath:  cfg.GetDenylistPath(),
		ReadInterval:  cfg.GetReadInterval(),
		Cycle:         cfg.GetProcessCycle(),
		HeadcountStep: cfg.GetHeadcountStep(),
		Clock:         clock,
	}
	switch gate {
	case config.GateNorth:
	case config.GateSouth:
		if clf == nil {
			return nil, ErrNoClassifier
		}
		p.Zones = cfg.GetZones()
		p.Reconstructor.Classifier = clf
	default:
		return nil, fmt.Errorf("unknown gate %q", gate)
	}
	if len(p.Reconstructor.Params.Receivers) == 0 {
		return nil, fmt.Errorf("gate %s has no receivers configured", gate)
	}
	return p, nil
}

// CycleResult summarises one cycle.
type CycleResult struct {
	ServerTime        time.Time
	Detections        int
	Devices           int
	HeadcountsWritten int
	QueueTimesWritten int
}

// RunCycle processes the window [now-ReadInterval, now]. An empty window is
// not an error: it publishes a zero series ending now.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleResult, error) {
	now := p.Clock.Now()
	dets, err := p.Store.DetectionsBetween(ctx, now.Add(-p.ReadInterval), now)
	if err != nil {
		return CycleResult{}, fmt.Errorf("read detections: %w", err)
	}
	readings, skipped := probe.Decode(dets)
	if skipped > 0 {
		monitoring.Logf("pipeline %s: skipped %d detections with undecodable device ids", p.Gate, skipped)
	}

	res := CycleResult{Detections: len(dets), ServerTime: now.Truncate(time.Second).UTC()}
	if len(readings) > 0 {
		res.ServerTime = readings[0].Time
		for _, r := range readings {
			if r.Time.After(res.ServerTime) {
				res.ServerTime = r.Time
			}
		}
	}

	allow, err := lists.LoadAllowList(p.AllowListPath)
	if err != nil {
		return res, err
	}
	deny, err := lists.LoadDenyList(p.DenyListPath)
	if err != nil {
		return res, err
	}

	presenceRes, err := p.Reconstructor.Reconstruct(readings, deny, allow, res.ServerTime)
	if err != nil {
		return res, err
	}
	res.Devices = len(presenceRes.Devices)
	monitoring.DevicesTracked.WithLabelValues(p.Gate).Set(float64(res.Devices))

	numZones := len(p.Zones)
	samples := aggregate.Headcount(presenceRes, numZones, p.ReadInterval, p.HeadcountStep)
	n, err := p.Publisher.PublishHeadcounts(ctx, probe.HeadcountCollection(p.Gate), samples)
	if err != nil {
		return res, fmt.Errorf("publish headcounts: %w", err)
	}
	res.HeadcountsWritten = n

	for _, q := range aggregate.QueueTimes(presenceRes, numZones, p.Cycle) {
		coll := probe.QueueTimeCollection(p.zoneLabel(q.Zone), q.Category)
		ok, err := p.Publisher.PublishQueueTime(ctx, coll, q.Record)
		if err != nil {
			return res, fmt.Errorf("publish %s: %w", coll, err)
		}
		if ok {
			res.QueueTimesWritten++
		}
	}

	monitoring.Logf("pipeline %s: server time %s, %d detections, %d devices, %d headcounts and %d queue records written",
		p.Gate, res.ServerTime.Format(time.RFC3339), res.Detections, res.Devices, res.HeadcountsWritten, res.QueueTimesWritten)
	return res, nil
}

// zoneLabel names a zone for collection naming; gates without zones use the
// gate name.
func (p *Pipeline) zoneLabel(zone int) string {
	if zone < 1 || zone > len(p.Zones) {
		return strings.ToLower(p.Gate)
	}
	return p.Zones[zone-1]
}

// Collections lists every collection the pipeline publishes to.
func (p *Pipeline) Collections() []string {
	out := []string{probe.HeadcountCollection(p.Gate)}
	labels := []string{strings.ToLower(p.Gate)}
	if len(p.Zones) > 0 {
		labels = p.Zones
	}
	for _, c := range probe.Categories {
		for _, l := range labels {
			out = append(out, probe.QueueTimeCollection(l, c))
		}
	}
	return out
}
