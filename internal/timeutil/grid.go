package timeutil

import "time"

// Floor returns t rounded down to a multiple of d since the Unix epoch, in
// UTC. Grids built with Floor line up across processes and restarts.
func Floor(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t.UTC()
	}
	ns := t.UnixNano()
	r := ns % int64(d)
	if r < 0 {
		r += int64(d)
	}
	return time.Unix(0, ns-r).UTC()
}
