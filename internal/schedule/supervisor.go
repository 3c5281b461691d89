// Package schedule runs periodic jobs under a supervisor: one cycle per
// period, failures logged and backed off, panics recovered, and the status of
// every run kept for the status API.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/queue.report/internal/db"
	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// ErrPanic wraps a panic recovered from a cycle.
var ErrPanic = errors.New("cycle panicked")

// CycleFunc is one unit of supervised work.
type CycleFunc func(ctx context.Context) error

// RunRecorder persists finished runs. *db.DB implements it.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, run db.JobRun) error
}

// RunInfo captures details about a single run.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Status is a snapshot of a supervised job.
type Status struct {
	Job           string    `json:"job"`
	Period        string    `json:"period"`
	LastRunAt     time.Time `json:"last_run_at"`
	LastSuccessAt time.Time `json:"last_success_at"`
	LastRunError  string    `json:"last_run_error,omitempty"`
	RunCount      int64     `json:"run_count"`
	FailureCount  int64     `json:"failure_count"`
	IsHealthy     bool      `json:"is_healthy"`
	CurrentRun    *RunInfo  `json:"current_run,omitempty"`
	LastRun       *RunInfo  `json:"last_run,omitempty"`
}

// Supervisor calls Cycle at a fixed cadence. A successful cycle is followed
// by a sleep of Period minus the cycle's duration (none on overrun); a failed
// cycle by a fixed Backoff.
type Supervisor struct {
	Name     string
	Period   time.Duration
	Backoff  time.Duration
	Cycle    CycleFunc
	Clock    timeutil.Clock
	Recorder RunRecorder // optional
	Logger   *log.Logger // optional, defaults to log.Default()

	mu            sync.RWMutex
	lastRunAt     time.Time
	lastSuccessAt time.Time
	lastRunError  error
	runCount      int64
	failureCount  int64
	currentRun    *RunInfo
	lastRun       *RunInfo
}

// New returns a supervisor using the real clock.
func New(name string, period, backoff time.Duration, cycle CycleFunc) *Supervisor {
	return &Supervisor{
		Name:    name,
		Period:  period,
		Backoff: backoff,
		Cycle:   cycle,
		Clock:   timeutil.RealClock{},
	}
}

func (s *Supervisor) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Supervisor) clock() timeutil.Clock {
	if s.Clock == nil {
		return timeutil.RealClock{}
	}
	return s.Clock
}

// Run loops until ctx is cancelled and returns ctx.Err(). Cycle errors never
// end the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Cycle == nil {
		return fmt.Errorf("supervisor %s: no cycle function", s.Name)
	}
	clock := s.clock()
	s.logger().Printf("%s: loop started: period=%s backoff=%s", s.Name, s.Period, s.Backoff)

	trigger := "initial"
	for {
		if err := ctx.Err(); err != nil {
			s.logger().Printf("%s: terminated", s.Name)
			return err
		}

		started := clock.Now()
		err := s.RunOnce(ctx, trigger)
		trigger = "periodic"
		if ctx.Err() != nil {
			continue
		}

		wait := s.Backoff
		if err != nil {
			s.logger().Printf("%s: cycle error, retrying in %s: %v", s.Name, wait, err)
		} else {
			wait = s.Period - clock.Since(started)
			if wait < 0 {
				s.logger().Printf("%s: cycle overran period by %s", s.Name, -wait)
				wait = 0
			}
		}
		if err := clock.SleepContext(ctx, wait); err != nil {
			continue
		}
	}
}

// RunOnce runs a single cycle, recovering any panic, and records its outcome.
func (s *Supervisor) RunOnce(ctx context.Context, trigger string) (err error) {
	run := s.startRun(trigger)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.logger().Printf("%s: recovered panic in run %s: %v\n%s", s.Name, run.RunID, r, debug.Stack())
		}
		s.finishRun(ctx, run, err)
	}()
	return s.Cycle(ctx)
}

func (s *Supervisor) startRun(trigger string) RunInfo {
	run := RunInfo{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.clock().Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := run
	s.currentRun = &current
	return run
}

func (s *Supervisor) finishRun(ctx context.Context, run RunInfo, err error) {
	now := s.clock().Now()
	run.FinishedAt = now
	elapsed := now.Sub(run.StartedAt)
	run.DurationMs = elapsed.Milliseconds()
	if err != nil {
		run.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun = &run
	s.currentRun = nil
	s.lastRunAt = now
	s.lastRunError = err
	s.runCount++
	if err != nil {
		s.failureCount++
	} else {
		s.lastSuccessAt = now
	}
	s.mu.Unlock()

	monitoring.CycleDuration.WithLabelValues(s.Name).Observe(elapsed.Seconds())
	if err != nil {
		monitoring.CycleFailures.WithLabelValues(s.Name).Inc()
	}

	if s.Recorder != nil {
		// Record even when the run ended because ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		rec := db.JobRun{
			RunID:      run.RunID,
			Job:        s.Name,
			Trigger:    run.Trigger,
			StartedAt:  run.StartedAt,
			DurationMs: run.DurationMs,
			Error:      run.Error,
		}
		if rerr := s.Recorder.RecordJobRun(rctx, rec); rerr != nil {
			s.logger().Printf("%s: failed to record run %s: %v", s.Name, run.RunID, rerr)
		}
	}
}

// Status returns a snapshot of the job. A job is unhealthy when its last run
// failed or its last success is older than twice the period.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Job:           s.Name,
		Period:        s.Period.String(),
		LastRunAt:     s.lastRunAt,
		LastSuccessAt: s.lastSuccessAt,
		RunCount:      s.runCount,
		FailureCount:  s.failureCount,
		IsHealthy:     true,
	}
	if s.lastRunError != nil {
		status.LastRunError = s.lastRunError.Error()
		status.IsHealthy = false
	}
	if s.currentRun != nil {
		runCopy := *s.currentRun
		status.CurrentRun = &runCopy
	}
	if s.lastRun != nil {
		runCopy := *s.lastRun
		status.LastRun = &runCopy
	}
	if !s.lastSuccessAt.IsZero() && s.clock().Since(s.lastSuccessAt) > 2*s.Period {
		status.IsHealthy = false
	}
	return status
}
