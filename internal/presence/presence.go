// Package presence reconstructs per-device presence series for one gate from
// a window of raw readings: it filters devices, optionally assigns each one a
// zone, splits detections into visits and fills every visit to a one-second
// grid.
package presence

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/lists"
	"github.com/banshee-data/queue.report/internal/probe"
)

// Unassigned is the zone of devices at gates without zones.
const Unassigned = 0

// Vector is one second of per-sensor strengths in dBm, ordered like
// Params.Receivers. Sensors that did not hear the device hold probe.NoSignal.
type Vector []int

// Row is a device's pivoted readings for one second.
type Row struct {
	Time   time.Time
	Vector Vector
}

// Segment is one visit on a dense one-second grid: Vectors[i] is the vector
// at Start + i seconds.
type Segment struct {
	Start   time.Time
	Vectors []Vector
}

// End returns the last second covered by the segment.
func (s Segment) End() time.Time {
	return s.Start.Add(time.Duration(len(s.Vectors)-1) * time.Second)
}

// Series is one device's reconstructed presence for a cycle. Segments are in
// time order and do not overlap.
type Series struct {
	Device   string
	Zone     int
	Segments []Segment
}

// First returns the first second the device is present.
func (s Series) First() time.Time { return s.Segments[0].Start }

// Last returns the last second the device is present.
func (s Series) Last() time.Time { return s.Segments[len(s.Segments)-1].End() }

// Result is the output of one reconstruction.
type Result struct {
	ServerTime time.Time
	Devices    []Series
	Zoned      bool
}

// Params controls reconstruction for one gate.
type Params struct {
	Receivers           []int
	WeakSignalFloor     int // dBm; devices never stronger than this are dropped
	MinPresenceSpan     time.Duration
	DepartureMultiplier float64
	ArrivalBuffer       time.Duration
	InactivityGap       time.Duration
	ZoneWindow          time.Duration
}

// ParamsFromConfig returns the reconstruction parameters for gate.
func ParamsFromConfig(cfg *config.Config, gate string) Params {
	return Params{
		Receivers:           cfg.GetReceivers(gate),
		WeakSignalFloor:     cfg.GetWeakSignalFloor(),
		MinPresenceSpan:     cfg.GetMinPresenceSpan(),
		DepartureMultiplier: cfg.GetDepartureMultiplier(),
		ArrivalBuffer:       cfg.GetArrivalBuffer(),
		InactivityGap:       cfg.GetInactivityGap(),
		ZoneWindow:          cfg.GetZoneWindow(),
	}
}

// ZoneClassifier predicts a class index in [0, zones) for each feature row.
type ZoneClassifier interface {
	Predict(features [][]float64) ([]int, error)
}

// Reconstructor turns raw readings into presence series. Classifier is nil
// for gates without zones.
type Reconstructor struct {
	Params     Params
	Classifier ZoneClassifier
}

// Reconstruct builds the presence series for every device that survives
// filtering. Readings must be in ascending time order. serverTime is the
// latest raw reading of the cycle, across all gates; no series extends past
// it. An empty result is not an error.
func (r *Reconstructor) Reconstruct(readings []probe.Reading, deny *lists.DenyList, allow *lists.AllowList, serverTime time.Time) (Result, error) {
	res := Result{ServerTime: serverTime, Zoned: r.Classifier != nil}

	devices, rows := Pivot(Filter(readings, r.Params, deny, allow), r.Params.Receivers)
	if len(devices) == 0 {
		return res, nil
	}

	zones := make(map[string]int, len(devices))
	if r.Classifier != nil {
		var err error
		zones, err = AssignZones(devices, rows, r.Params.ZoneWindow, r.Classifier)
		if err != nil {
			return res, fmt.Errorf("assign zones: %w", err)
		}
	}

	for _, dev := range devices {
		segs := r.reconstructDevice(rows[dev])
		segs = trim(segs, serverTime)
		if len(segs) == 0 {
			continue
		}
		res.Devices = append(res.Devices, Series{Device: dev, Zone: zones[dev], Segments: segs})
	}
	return res, nil
}

// reconstructDevice pads and resamples each visit. Devices whose detections
// span less than MinPresenceSpan yield nothing.
func (r *Reconstructor) reconstructDevice(rows []Row) []Segment {
	if len(rows) < 2 {
		return nil
	}
	span := rows[len(rows)-1].Time.Sub(rows[0].Time)
	if span < r.Params.MinPresenceSpan {
		return nil
	}
	meanGap := span / time.Duration(len(rows)-1)
	departure := time.Duration(r.Params.DepartureMultiplier * float64(meanGap))

	var out []Segment
	for _, seg := range Segments(rows, r.Params.InactivityGap) {
		start := seg[0].Time.Add(-r.Params.ArrivalBuffer)
		end := seg[len(seg)-1].Time.Add(departure)
		out = append(out, Resample(seg, start, end))
	}
	return clip(out)
}

// Filter applies the per-gate device filters: only readings from the gate's
// receivers with negative strength count; devices whose strongest reading
// is below the weak-signal floor, that are denylisted, whose vendor prefix
// is not allowed, or that have a single remaining reading are dropped.
func Filter(readings []probe.Reading, p Params, deny *lists.DenyList, allow *lists.AllowList) []probe.Reading {
	gate := make(map[int]bool, len(p.Receivers))
	for _, rx := range p.Receivers {
		gate[rx] = true
	}

	kept := make([]probe.Reading, 0, len(readings))
	strongest := make(map[string]int)
	for _, rd := range readings {
		if !gate[rd.Receiver] || rd.DBm >= 0 {
			continue
		}
		if s, ok := strongest[rd.Device]; !ok || rd.DBm > s {
			strongest[rd.Device] = rd.DBm
		}
		kept = append(kept, rd)
	}

	counts := make(map[string]int)
	out := kept[:0]
	for _, rd := range kept {
		if strongest[rd.Device] < p.WeakSignalFloor || deny.Contains(rd.Device) || !allow.Allows(rd.Device) {
			continue
		}
		counts[rd.Device]++
		out = append(out, rd)
	}

	final := out[:0]
	for _, rd := range out {
		if counts[rd.Device] > 1 {
			final = append(final, rd)
		}
	}
	return final
}

// Pivot groups readings into one row per (device, second) with a column per
// receiver. Devices are returned in order of first appearance and each
// device's rows are in ascending time order.
func Pivot(readings []probe.Reading, receivers []int) ([]string, map[string][]Row) {
	col := make(map[int]int, len(receivers))
	for i, rx := range receivers {
		col[rx] = i
	}

	var devices []string
	rows := make(map[string][]Row)
	index := make(map[string]map[int64]int)
	for _, rd := range readings {
		c, ok := col[rd.Receiver]
		if !ok {
			continue
		}
		if _, seen := rows[rd.Device]; !seen {
			devices = append(devices, rd.Device)
			index[rd.Device] = make(map[int64]int)
		}
		sec := rd.Time.Unix()
		i, ok := index[rd.Device][sec]
		if !ok {
			v := make(Vector, len(receivers))
			for j := range v {
				v[j] = probe.NoSignal
			}
			i = len(rows[rd.Device])
			index[rd.Device][sec] = i
			rows[rd.Device] = append(rows[rd.Device], Row{Time: time.Unix(sec, 0).UTC(), Vector: v})
		}
		if v := rows[rd.Device][i].Vector; rd.DBm > v[c] {
			v[c] = rd.DBm
		}
	}
	for _, dev := range devices {
		r := rows[dev]
		sort.SliceStable(r, func(a, b int) bool { return r[a].Time.Before(r[b].Time) })
	}
	return devices, rows
}
