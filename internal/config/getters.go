package config

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// GetSensors returns the sensor index for each receiver address. Addresses are
// upper-cased so lookups are case-insensitive.
func (c *Config) GetSensors() map[string]int {
	out := make(map[string]int)
	if c.Sensors == nil {
		for idx, addr := range defaultSensors {
			out[addr] = idx
		}
		return out
	}
	for k, addr := range c.Sensors {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[strings.ToUpper(addr)] = idx
	}
	return out
}

// GetReceivers returns the sorted sensor indices that belong to a gate.
func (c *Config) GetReceivers(gate string) []int {
	var r []int
	switch gate {
	case GateNorth:
		r = c.NorthReceivers
		if r == nil {
			r = []int{1, 2, 3, 4}
		}
	case GateSouth:
		r = c.SouthReceivers
		if r == nil {
			r = []int{5, 6, 7, 8, 9, 10, 11}
		}
	default:
		return nil
	}
	out := append([]int(nil), r...)
	sort.Ints(out)
	return out
}

// GetZones returns the four south-gate zone labels, in classifier class order.
func (c *Config) GetZones() []string {
	if c.Zones == nil {
		return []string{"B91M", "M11", "M104", "B91P"}
	}
	return append([]string(nil), c.Zones...)
}

// GetReadInterval returns the gate pipeline read window.
func (c *Config) GetReadInterval() time.Duration {
	return durationOr(c.ReadInterval, 30*time.Minute)
}

// GetProcessCycle returns the gate pipeline cycle length.
func (c *Config) GetProcessCycle() time.Duration {
	return durationOr(c.ProcessCycle, 60*time.Second)
}

// GetErrorBackoff returns the fixed sleep after a failed cycle.
func (c *Config) GetErrorBackoff() time.Duration {
	return durationOr(c.ErrorBackoff, 60*time.Second)
}

func (c *Config) GetWeakSignalFloor() int { return intOr(c.WeakSignalFloor, -70) }

func (c *Config) GetMinPresenceSpan() time.Duration {
	return durationOr(c.MinPresenceSpan, 60*time.Second)
}

func (c *Config) GetDepartureMultiplier() float64 {
	if c.DepartureMultiplier == nil {
		return 3
	}
	return *c.DepartureMultiplier
}

func (c *Config) GetArrivalBuffer() time.Duration { return durationOr(c.ArrivalBuffer, 0) }

func (c *Config) GetInactivityGap() time.Duration {
	return durationOr(c.InactivityGap, 30*time.Minute)
}

func (c *Config) GetZoneWindow() time.Duration { return durationOr(c.ZoneWindow, 2*time.Minute) }

func (c *Config) GetHeadcountStep() time.Duration {
	return durationOr(c.HeadcountStep, 5*time.Second)
}

func (c *Config) GetDedupLookback() time.Duration { return durationOr(c.DedupLookback, time.Hour) }

func (c *Config) GetHeadcountDedupLimit() int { return intOr(c.HeadcountDedupLimit, 720) }

func (c *Config) GetQueueDedupLimit() int { return intOr(c.QueueDedupLimit, 60) }

// GetRetention returns how long raw and published rows are kept.
func (c *Config) GetRetention() time.Duration { return durationOr(c.Retention, 176*time.Hour) }

func (c *Config) GetBatchSize() int { return intOr(c.BatchSize, 1000) }

func (c *Config) GetIngestListen() string { return stringOr(c.IngestListen, ":3650") }

func (c *Config) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, 30*time.Second)
}

func (c *Config) GetNoiseReadInterval() time.Duration {
	return durationOr(c.NoiseReadInterval, 72*time.Hour)
}

func (c *Config) GetNoiseCycle() time.Duration { return durationOr(c.NoiseCycle, time.Hour) }

// GetNoiseMidnightHours returns the inclusive hour range of the late-night
// heuristic.
func (c *Config) GetNoiseMidnightHours() (first, last int) {
	if len(c.NoiseMidnightHours) != 2 {
		return 2, 4
	}
	return c.NoiseMidnightHours[0], c.NoiseMidnightHours[1]
}

func (c *Config) GetNoiseDistinctHours() int { return intOr(c.NoiseDistinctHours, 6) }

func (c *Config) GetNoiseRecentWindow() time.Duration {
	return durationOr(c.NoiseRecentWindow, 6*time.Hour)
}

func (c *Config) GetNoiseMinRecentDetections() int { return intOr(c.NoiseMinRecentDetections, 11) }

func (c *Config) GetNoiseMaxGap() time.Duration { return durationOr(c.NoiseMaxGap, 30*time.Minute) }

func (c *Config) GetNoiseStayThreshold() time.Duration {
	return durationOr(c.NoiseStayThreshold, 90*time.Minute)
}

// GetLocation returns the timezone used for hour-of-day heuristics. Invalid
// names fall back to UTC; Validate rejects them on load.
func (c *Config) GetLocation() *time.Location {
	name := stringOr(c.Timezone, "UTC")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) GetAllowlistPath() string {
	return stringOr(c.AllowlistPath, "resources/mac_prefix.json")
}

func (c *Config) GetDenylistPath() string {
	return stringOr(c.DenylistPath, "resources/filter_list.json")
}

func (c *Config) GetModelPath() string { return stringOr(c.ModelPath, "resources/model.json") }

func (c *Config) GetAPIListen() string { return stringOr(c.APIListen, ":8081") }
