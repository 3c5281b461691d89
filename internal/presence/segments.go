package presence

import "time"

// Segments splits a device's rows into visits wherever consecutive rows are
// more than gap apart. Rows must be in ascending time order.
func Segments(rows []Row, gap time.Duration) [][]Row {
	if len(rows) == 0 {
		return nil
	}
	var out [][]Row
	start := 0
	for i := 1; i < len(rows); i++ {
		if rows[i].Time.Sub(rows[i-1].Time) > gap {
			out = append(out, rows[start:i])
			start = i
		}
	}
	return append(out, rows[start:])
}

// Resample places rows on a one-second grid from start to end inclusive,
// both truncated to the second. The first second takes the first row's
// vector and every second without a row repeats the previous second. Rows
// outside [start, end] are ignored.
func Resample(rows []Row, start, end time.Time) Segment {
	start = start.Truncate(time.Second).UTC()
	end = end.Truncate(time.Second).UTC()
	if len(rows) == 0 || end.Before(start) {
		return Segment{Start: start}
	}

	n := int(end.Sub(start)/time.Second) + 1
	vectors := make([]Vector, n)
	for _, r := range rows {
		i := int(r.Time.Sub(start) / time.Second)
		if i < 0 || i >= n || vectors[i] != nil {
			continue
		}
		vectors[i] = r.Vector
	}
	if vectors[0] == nil {
		vectors[0] = rows[0].Vector
	}
	for i := 1; i < n; i++ {
		if vectors[i] == nil {
			vectors[i] = vectors[i-1]
		}
	}
	return Segment{Start: start, Vectors: vectors}
}

// clip shortens any segment whose padded end reaches the next segment's
// start, so a device is never counted twice in the same second.
func clip(segs []Segment) []Segment {
	for i := 0; i+1 < len(segs); i++ {
		next := segs[i+1].Start
		if segs[i].End().Before(next) {
			continue
		}
		keep := int(next.Sub(segs[i].Start) / time.Second)
		if keep < 1 {
			keep = 1
		}
		segs[i].Vectors = segs[i].Vectors[:keep]
	}
	return segs
}

// trim drops every second after serverTime, and any segment left empty.
func trim(segs []Segment, serverTime time.Time) []Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Start.After(serverTime) {
			continue
		}
		if s.End().After(serverTime) {
			s.Vectors = s.Vectors[:int(serverTime.Sub(s.Start)/time.Second)+1]
		}
		out = append(out, s)
	}
	return out
}
