package probe

import (
	"fmt"
	"strings"
	"time"
)

// Bucket indexes a queue-duration bucket.
type Bucket int

const (
	Bucket0To5 Bucket = iota
	Bucket5To10
	Bucket10To15
	Bucket15To20
	Bucket20Plus

	NumBuckets = 5
)

var bucketLabels = [NumBuckets]string{"0-5", "5-10", "10-15", "15-20", "20+"}

func (b Bucket) String() string {
	if b < 0 || int(b) >= NumBuckets {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return bucketLabels[b]
}

// BucketFor maps a queue duration onto its bucket. Intervals are half-open and
// lower-inclusive, so exactly 5m falls in "5-10".
func BucketFor(d time.Duration) Bucket {
	switch {
	case d < 5*time.Minute:
		return Bucket0To5
	case d < 10*time.Minute:
		return Bucket5To10
	case d < 15*time.Minute:
		return Bucket10To15
	case d < 20*time.Minute:
		return Bucket15To20
	default:
		return Bucket20Plus
	}
}

// Category splits queue episodes by whether the device was still present at
// the end of the processing window.
type Category string

const (
	Current Category = "current"
	Boarded Category = "boarded"
)

// Categories lists categories in publication order.
var Categories = []Category{Current, Boarded}

// HeadcountSample is one point of a gate's headcount series. Zones is nil for
// gates that publish a single aggregate; Unassigned is the always-zero
// placeholder for devices without a zone.
type HeadcountSample struct {
	Time       time.Time `json:"time"`
	Count      int       `json:"count"`
	Zones      []int     `json:"zones,omitempty"`
	Unassigned int       `json:"unassigned"`
}

// QueueTimeRecord counts devices per duration bucket for one (zone, category)
// at a whole-minute timestamp.
type QueueTimeRecord struct {
	Time    time.Time       `json:"time"`
	Buckets [NumBuckets]int `json:"buckets"`
}

// Total returns the number of devices counted across all buckets.
func (r QueueTimeRecord) Total() int {
	n := 0
	for _, c := range r.Buckets {
		n += c
	}
	return n
}

// HeadcountCollection names the headcount collection for a gate.
func HeadcountCollection(gate string) string {
	return "pplno_" + strings.ToLower(gate)
}

// QueueTimeCollection names the queue-time collection for a zone label (the
// gate name for gates without zones) and category.
func QueueTimeCollection(zone string, cat Category) string {
	return fmt.Sprintf("qtd_%s_%s", cat, strings.ToLower(zone))
}

// IsHeadcountCollection reports whether name is a headcount collection.
func IsHeadcountCollection(name string) bool {
	return strings.HasPrefix(name, "pplno_")
}
