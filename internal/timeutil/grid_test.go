package timeutil

import (
	"testing"
	"time"
)

func TestFloor(t *testing.T) {
	tests := []struct {
		in   time.Time
		d    time.Duration
		want int64
	}{
		{time.Unix(1740816003, 0), 5 * time.Second, 1740816000},
		{time.Unix(1740816005, 0), 5 * time.Second, 1740816005},
		{time.Unix(1740816119, 999), 2 * time.Minute, 1740816000},
		{time.Unix(1740816059, 0), time.Minute, 1740816000},
		{time.Unix(-3, 0), 5 * time.Second, -5},
	}
	for _, tt := range tests {
		got := Floor(tt.in, tt.d)
		if got.Unix() != tt.want || got.Nanosecond() != 0 {
			t.Errorf("Floor(%d, %v) = %v, want %d", tt.in.Unix(), tt.d, got.Unix(), tt.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("Floor returned location %v, want UTC", got.Location())
		}
	}

	local := time.Date(2025, 3, 1, 8, 0, 7, 0, time.FixedZone("UTC+8", 8*3600))
	if got := Floor(local, 0); !got.Equal(local) {
		t.Errorf("Floor with zero step = %v, want %v", got, local)
	}
}
