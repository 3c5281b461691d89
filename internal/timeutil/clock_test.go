package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealClock_SleepContext(t *testing.T) {
	clock := RealClock{}
	start := time.Now()
	if err := clock.SleepContext(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("SleepContext() = %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("SleepContext returned early")
	}
}

func TestRealClock_SleepContextCancelled(t *testing.T) {
	clock := RealClock{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := clock.SleepContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep blocked")
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if err := clock.SleepContext(context.Background(), 45*time.Second); err != nil {
		t.Fatalf("SleepContext() = %v", err)
	}
	if err := clock.SleepContext(context.Background(), 0); err != nil {
		t.Fatalf("SleepContext(0) = %v", err)
	}

	if got := clock.Now(); !got.Equal(start.Add(45 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(45*time.Second))
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 45*time.Second || sleeps[1] != 0 {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if clock.Since(start) != 45*time.Second {
		t.Errorf("Since() = %v", clock.Since(start))
	}
}

func TestMockClock_SleepContextDone(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := clock.SleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() = %v, want context.Canceled", err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Error("cancelled sleep should not be recorded")
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	ticker := clock.NewTicker(30 * time.Second)

	clock.Advance(29 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case got := <-ticker.C():
		if got.Unix() != 1030 {
			t.Errorf("tick at %v, want 1030", got.Unix())
		}
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Hour).(*MockTicker)
	ticker.Trigger(time.Unix(5, 0))
	ticker.Trigger(time.Unix(6, 0)) // dropped, one pending

	got := <-ticker.C()
	if got.Unix() != 5 {
		t.Errorf("Trigger delivered %v, want 5", got.Unix())
	}
}
