package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/probe"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

// DetectionWriter persists a batch of detections in chunks of batchSize.
type DetectionWriter interface {
	InsertDetections(ctx context.Context, dets []probe.Detection, batchSize int) (int, error)
}

// FlusherConfig contains configuration for Flusher.
type FlusherConfig struct {
	Buffer    *Buffer
	Store     DetectionWriter
	Interval  time.Duration
	BatchSize int
	// Clock is optional; defaults to the real clock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// Flusher periodically swaps the buffer out and writes its contents. Writes
// happen on the flusher's goroutine, so the receive loop only ever waits for
// the swap.
type Flusher struct {
	buffer    *Buffer
	store     DetectionWriter
	interval  time.Duration
	batchSize int
	clock     timeutil.Clock
	logger    *log.Logger

	mu sync.Mutex // serialises flushes
}

func NewFlusher(cfg FlusherConfig) *Flusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Flusher{
		buffer:    cfg.Buffer,
		store:     cfg.Store,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		clock:     clock,
		logger:    logger,
	}
}

// Run flushes every interval until ctx is cancelled, then flushes whatever is
// left once more. Returns nil on clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	if f.interval <= 0 {
		f.logger.Printf("Flusher: interval is zero or negative, not starting")
		return nil
	}
	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Printf("Flusher started: interval=%v batch=%d", f.interval, f.batchSize)

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := f.flush(finalCtx)
			cancel()
			if err != nil {
				f.logger.Printf("Flusher: error during final flush: %v", err)
			} else {
				f.logger.Printf("Flusher: final flush wrote %d detections", n)
			}
			return nil
		case <-ticker.C():
			if _, err := f.flush(ctx); err != nil {
				f.logger.Printf("Flusher: error flushing: %v", err)
			}
		}
	}
}

// FlushNow swaps and writes the buffer immediately, returning the number of
// rows written.
func (f *Flusher) FlushNow(ctx context.Context) (int, error) {
	return f.flush(ctx)
}

// flush drops the batch on error; the next interval starts from an empty
// buffer.
func (f *Flusher) flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.buffer.Swap()
	if len(batch) == 0 {
		return 0, nil
	}
	rows := CollapseDuplicates(batch)
	n, err := f.store.InsertDetections(ctx, rows, f.batchSize)
	monitoring.DetectionsFlushed.Add(float64(n))
	if err != nil {
		monitoring.FlushErrors.Inc()
		return n, err
	}
	return n, nil
}
