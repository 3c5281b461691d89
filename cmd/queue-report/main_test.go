package main

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestListenPort(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{":3650", 3650},
		{"0.0.0.0:4000", 4000},
		{"[::1]:53", 53},
		{"localhost", 0},
		{":http", 0},
	}
	for _, tt := range tests {
		if got := listenPort(tt.addr); got != tt.want {
			t.Errorf("listenPort(%q) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestCommonFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if common.dbPath != "queue.db" {
		t.Errorf("default db path = %q, want queue.db", common.dbPath)
	}
	if common.configPath != "" {
		t.Errorf("default config path = %q, want empty", common.configPath)
	}
	if cfg := common.loadConfig(); len(cfg.GetZones()) != 4 {
		t.Errorf("default config has %d zones, want 4", len(cfg.GetZones()))
	}

	common.configPath = filepath.Join("..", "..", "config", "queue.defaults.json")
	cfg := common.loadConfig()
	if got := cfg.GetIngestListen(); got != ":3650" {
		t.Errorf("ingest_listen = %q, want :3650", got)
	}
}

func TestJobNames(t *testing.T) {
	want := map[string]bool{"pipeline-north": true, "pipeline-south": true, "denylist": true, "retention": true}
	if len(allJobs) != len(want) {
		t.Fatalf("allJobs = %v", allJobs)
	}
	for _, j := range allJobs {
		if !want[j] {
			t.Errorf("unexpected job %q", j)
		}
	}
}

func TestRunIngestWorkersFlushesAfterListenerStops(t *testing.T) {
	var listenerDone, flushedAfterListener atomic.Bool
	listen := func(ctx context.Context) error {
		<-ctx.Done()
		// A datagram still in flight when the stop arrives.
		time.Sleep(20 * time.Millisecond)
		listenerDone.Store(true)
		return ctx.Err()
	}
	flush := func(ctx context.Context) error {
		<-ctx.Done()
		flushedAfterListener.Store(listenerDone.Load())
		return nil
	}
	prune := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runIngestWorkers(ctx, listen, flush, prune) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runIngestWorkers: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
	if !flushedAfterListener.Load() {
		t.Error("final flush ran before the listener returned")
	}
}

func TestRunIngestWorkersReturnsListenerError(t *testing.T) {
	bindErr := errors.New("failed to listen on UDP address: address already in use")
	var flushed atomic.Bool
	listen := func(context.Context) error { return bindErr }
	flush := func(ctx context.Context) error {
		<-ctx.Done()
		flushed.Store(true)
		return nil
	}
	prune := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- runIngestWorkers(context.Background(), listen, flush, prune) }()

	select {
	case err := <-done:
		if !errors.Is(err, bindErr) {
			t.Fatalf("runIngestWorkers error = %v, want %v", err, bindErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener failure did not stop the workers")
	}
	if !flushed.Load() {
		t.Error("flusher did not run its final flush")
	}
}
