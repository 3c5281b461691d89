package presence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/queue.report/internal/timeutil"
)

// bucketKey identifies one device's rows within one zone window.
type bucketKey struct {
	start  int64
	device string
}

// AssignZones classifies each device's per-window mean vectors and gives the
// device the zone predicted for most of its windows, ties going to the
// lower zone. Zones are numbered from 1; class index i is zone i+1.
//
// All windows of the cycle are classified as one batch, ordered by window
// then device, so the batch scaling sees every device at once.
func AssignZones(devices []string, rows map[string][]Row, window time.Duration, clf ZoneClassifier) (map[string]int, error) {
	var keys []bucketKey
	members := make(map[bucketKey][]Vector)
	for _, dev := range devices {
		for _, r := range rows[dev] {
			k := bucketKey{timeutil.Floor(r.Time, window).Unix(), dev}
			if _, ok := members[k]; !ok {
				keys = append(keys, k)
			}
			members[k] = append(members[k], r.Vector)
		}
	}
	if len(keys) == 0 {
		return map[string]int{}, nil
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].start != keys[j].start {
			return keys[i].start < keys[j].start
		}
		return keys[i].device < keys[j].device
	})

	features := make([][]float64, len(keys))
	for i, k := range keys {
		features[i] = BucketFeatures(members[k])
	}
	classes, err := clf.Predict(features)
	if err != nil {
		return nil, err
	}
	if len(classes) != len(keys) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d windows", len(classes), len(keys))
	}

	votes := make(map[string]map[int]int)
	for i, k := range keys {
		if votes[k.device] == nil {
			votes[k.device] = make(map[int]int)
		}
		votes[k.device][classes[i]+1]++
	}
	zones := make(map[string]int, len(votes))
	for dev, v := range votes {
		zones[dev] = mode(v)
	}
	return zones, nil
}

// BucketFeatures returns the per-sensor mean of vectors, truncated towards
// zero. A sensor with no value is 0.
func BucketFeatures(vectors []Vector) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	col := make([]float64, len(vectors))
	for j := range out {
		for i, v := range vectors {
			col[i] = float64(v[j])
		}
		m := stat.Mean(col, nil)
		if math.IsNaN(m) {
			m = 0
		}
		out[j] = math.Trunc(m)
	}
	return out
}

func mode(votes map[int]int) int {
	best, bestCount := 0, -1
	for zone, n := range votes {
		if n > bestCount || (n == bestCount && zone < best) {
			best, bestCount = zone, n
		}
	}
	return best
}
