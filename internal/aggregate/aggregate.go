// Package aggregate turns reconstructed presence series into the published
// headcount series and queue-duration distributions.
package aggregate

import (
	"time"

	"github.com/banshee-data/queue.report/internal/presence"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// BucketFor maps a queue duration onto its bucket.
func BucketFor(d time.Duration) probe.Bucket { return probe.BucketFor(d) }

// Headcount counts devices present each second and samples the counts onto
// an epoch-aligned step grid, taking the first occupied second of each step. The
// series runs from the first presence to the server time, with explicit
// zeros where nobody is present.
//
// When numZones is positive, devices are counted per zone (zones 1 to
// numZones) and Count is their sum. With no devices the series is all zeros
// and spans readInterval up to the server time.
func Headcount(res presence.Result, numZones int, readInterval, step time.Duration) []probe.HeadcountSample {
	server := res.ServerTime.Truncate(time.Second)
	if len(res.Devices) == 0 {
		return zeroSeries(server.Add(-readInterval), server, numZones, step)
	}

	first := server
	for _, s := range res.Devices {
		if s.First().Before(first) {
			first = s.First()
		}
	}
	n := int(server.Sub(first)/time.Second) + 1

	// perSecond[i][0] is the unassigned count, [z] is zone z.
	perSecond := make([][]int, n)
	for i := range perSecond {
		perSecond[i] = make([]int, numZones+1)
	}
	for _, s := range res.Devices {
		z := s.Zone
		if z < 1 || z > numZones {
			z = 0
		}
		for _, seg := range s.Segments {
			off := int(seg.Start.Sub(first) / time.Second)
			for i := range seg.Vectors {
				if j := off + i; j >= 0 && j < n {
					perSecond[j][z]++
				}
			}
		}
	}

	// Each bin takes the first second in it with anyone present; a bin with
	// no one present is all zeros.
	empty := make([]int, numZones+1)
	var out []probe.HeadcountSample
	for b := timeutil.Floor(first, step); !b.After(server); b = b.Add(step) {
		lo := int(b.Sub(first) / time.Second)
		if lo < 0 {
			lo = 0
		}
		hi := int(b.Add(step).Sub(first) / time.Second)
		if hi > n {
			hi = n
		}
		counts := empty
		for i := lo; i < hi; i++ {
			if occupied(perSecond[i]) {
				counts = perSecond[i]
				break
			}
		}
		out = append(out, sample(b, counts, numZones))
	}
	return out
}

func occupied(counts []int) bool {
	for _, c := range counts {
		if c > 0 {
			return true
		}
	}
	return false
}

func sample(t time.Time, counts []int, numZones int) probe.HeadcountSample {
	s := probe.HeadcountSample{Time: t.UTC()}
	if numZones == 0 {
		s.Count = counts[0]
		return s
	}
	s.Zones = make([]int, numZones)
	for z := 1; z <= numZones; z++ {
		s.Zones[z-1] = counts[z]
		s.Count += counts[z]
	}
	s.Unassigned = counts[0]
	return s
}

func zeroSeries(from, to time.Time, numZones int, step time.Duration) []probe.HeadcountSample {
	zeros := make([]int, numZones+1)
	var out []probe.HeadcountSample
	for b := timeutil.Floor(from, step); !b.After(to); b = b.Add(step) {
		out = append(out, sample(b, zeros, numZones))
	}
	return out
}

// ZoneQueueTime is the queue-duration distribution for one zone and
// category. Zone is 0 at gates without zones.
type ZoneQueueTime struct {
	Zone     int
	Category probe.Category
	Record   probe.QueueTimeRecord
}

// QueueTimes buckets each device's queue duration, last minus first
// appearance, by zone and category. A device is current if it was last seen
// within cycle of the server time and boarded otherwise. One record is
// returned for every (category, zone) pair, current first, stamped at the
// server time floored to the minute; pairs without devices are all zero.
func QueueTimes(res presence.Result, numZones int, cycle time.Duration) []ZoneQueueTime {
	stamp := timeutil.Floor(res.ServerTime, time.Minute)
	zones := []int{presence.Unassigned}
	if numZones > 0 {
		zones = zones[:0]
		for z := 1; z <= numZones; z++ {
			zones = append(zones, z)
		}
	}

	type key struct {
		zone int
		cat  probe.Category
	}
	counts := make(map[key]*[probe.NumBuckets]int)
	for _, z := range zones {
		for _, c := range probe.Categories {
			counts[key{z, c}] = new([probe.NumBuckets]int)
		}
	}

	edge := res.ServerTime.Add(-cycle)
	for _, s := range res.Devices {
		zone := s.Zone
		if numZones == 0 {
			zone = presence.Unassigned
		}
		cat := probe.Boarded
		if !s.Last().Before(edge) {
			cat = probe.Current
		}
		b, ok := counts[key{zone, cat}]
		if !ok {
			continue
		}
		b[BucketFor(s.Last().Sub(s.First()))]++
	}

	out := make([]ZoneQueueTime, 0, len(counts))
	for _, c := range probe.Categories {
		for _, z := range zones {
			out = append(out, ZoneQueueTime{
				Zone:     z,
				Category: c,
				Record:   probe.QueueTimeRecord{Time: stamp, Buckets: *counts[key{z, c}]},
			})
		}
	}
	return out
}
