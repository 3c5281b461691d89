// Package noise mines the detection history for devices that behave like
// fixed infrastructure rather than passengers, and republishes the denylist.
package noise

import (
	"sort"
	"time"

	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/lists"
	"github.com/banshee-data/queue.report/internal/probe"
)

// Params holds the heuristic thresholds.
type Params struct {
	// Location is used for the late-night and per-day heuristics.
	Location *time.Location

	// MidnightFirst and MidnightLast bound the late-night window, inclusive
	// local hours.
	MidnightFirst int
	MidnightLast  int

	// DistinctHours is the number of distinct local hours within one day at
	// which a device counts as always present.
	DistinctHours int

	// RecentWindow, MinRecentDetections, MaxGap and StayThreshold drive the
	// long-stay heuristic over the most recent part of the history.
	RecentWindow        time.Duration
	MinRecentDetections int
	MaxGap              time.Duration
	StayThreshold       time.Duration
}

// ParamsFromConfig reads the heuristic thresholds from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	first, last := cfg.GetNoiseMidnightHours()
	return Params{
		Location:            cfg.GetLocation(),
		MidnightFirst:       first,
		MidnightLast:        last,
		DistinctHours:       cfg.GetNoiseDistinctHours(),
		RecentWindow:        cfg.GetNoiseRecentWindow(),
		MinRecentDetections: cfg.GetNoiseMinRecentDetections(),
		MaxGap:              cfg.GetNoiseMaxGap(),
		StayThreshold:       cfg.GetNoiseStayThreshold(),
	}
}

// FindNoise returns the devices judged to be noise, in the order the
// heuristics matched them. Readings must be in ascending time order.
//
// Devices without an allowed vendor prefix, or seen only once, are ignored.
// Each heuristic sees only the devices earlier heuristics did not match.
func FindNoise(readings []probe.Reading, allow *lists.AllowList, p Params) []string {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	counts := make(map[string]int)
	for _, r := range readings {
		if allow.Allows(r.Device) {
			counts[r.Device]++
		}
	}
	data := make([]probe.Reading, 0, len(readings))
	for _, r := range readings {
		if counts[r.Device] > 1 {
			data = append(data, r)
		}
	}

	var noise []string
	matched := make(map[string]bool)
	add := func(devices map[string]bool) {
		sorted := make([]string, 0, len(devices))
		for d := range devices {
			if !matched[d] {
				sorted = append(sorted, d)
			}
		}
		sort.Strings(sorted)
		for _, d := range sorted {
			matched[d] = true
			noise = append(noise, d)
		}
		data = without(data, matched)
	}

	add(midnightDevices(data, loc, p.MidnightFirst, p.MidnightLast))
	add(alwaysPresentDevices(data, loc, p.DistinctHours))
	add(longStayDevices(data, p))
	return noise
}

func without(data []probe.Reading, drop map[string]bool) []probe.Reading {
	out := data[:0]
	for _, r := range data {
		if !drop[r.Device] {
			out = append(out, r)
		}
	}
	return out
}

func midnightDevices(data []probe.Reading, loc *time.Location, first, last int) map[string]bool {
	out := make(map[string]bool)
	for _, r := range data {
		h := r.Time.In(loc).Hour()
		if h >= first && h <= last {
			out[r.Device] = true
		}
	}
	return out
}

func alwaysPresentDevices(data []probe.Reading, loc *time.Location, threshold int) map[string]bool {
	type dayKey struct {
		device  string
		y, m, d int
	}
	hours := make(map[dayKey]map[int]struct{})
	for _, r := range data {
		t := r.Time.In(loc)
		y, m, d := t.Date()
		k := dayKey{r.Device, y, int(m), d}
		if hours[k] == nil {
			hours[k] = make(map[int]struct{})
		}
		hours[k][t.Hour()] = struct{}{}
	}
	out := make(map[string]bool)
	for k, hs := range hours {
		if len(hs) >= threshold {
			out[k.device] = true
		}
	}
	return out
}

// longStayDevices looks only at readings strictly newer than the latest
// reading minus RecentWindow. Gaps longer than MaxGap are treated as absence
// and do not count towards the stay.
func longStayDevices(data []probe.Reading, p Params) map[string]bool {
	out := make(map[string]bool)
	if len(data) == 0 {
		return out
	}
	latest := data[0].Time
	for _, r := range data {
		if r.Time.After(latest) {
			latest = r.Time
		}
	}
	cutoff := latest.Add(-p.RecentWindow)

	times := make(map[string][]time.Time)
	for _, r := range data {
		if r.Time.After(cutoff) {
			times[r.Device] = append(times[r.Device], r.Time)
		}
	}
	for device, ts := range times {
		if len(ts) < p.MinRecentDetections {
			continue
		}
		var stay time.Duration
		for i := 1; i < len(ts); i++ {
			if gap := ts[i].Sub(ts[i-1]); gap <= p.MaxGap {
				stay += gap
			}
		}
		if stay > p.StayThreshold {
			out[device] = true
		}
	}
	return out
}
