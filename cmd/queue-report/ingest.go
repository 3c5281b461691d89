package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"sync"

	"github.com/banshee-data/queue.report/internal/db"
	"github.com/banshee-data/queue.report/internal/ingest"
	"github.com/banshee-data/queue.report/internal/schedule"
)

func runIngest(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", "", "UDP listen address (overrides ingest_listen)")
	rcvBuf := fs.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	_ = fs.Parse(args)

	cfg := common.loadConfig()
	database := common.openDB()
	defer database.Close()

	addr := cfg.GetIngestListen()
	if *listen != "" {
		addr = *listen
	}

	buf := &ingest.Buffer{}
	handler := &ingest.Ingestor{Normalizer: ingest.NewNormalizer(cfg.GetSensors()), Buffer: buf}
	listener := ingest.NewListener(ingest.ListenerConfig{
		Address: addr,
		RcvBuf:  *rcvBuf,
		Handler: handler,
	})
	flusher := ingest.NewFlusher(ingest.FlusherConfig{
		Buffer:    buf,
		Store:     database,
		Interval:  cfg.GetFlushInterval(),
		BatchSize: cfg.GetBatchSize(),
	})

	retention := db.NewRetentionWorker(database, cfg.GetRetention())
	pruner := schedule.New(jobRetention, retention.Interval, cfg.GetErrorBackoff(), retention.RunOnce)
	pruner.Recorder = database

	if err := listener.Bind(); err != nil {
		log.Fatalf("ingest: %v", err)
	}
	log.Printf("ingest: listening on %s, flushing every %s", listener.LocalAddr(), cfg.GetFlushInterval())
	if err := runIngestWorkers(ctx, listener.Start, flusher.Run, pruner.Run); err != nil {
		log.Fatalf("ingest listener failed: %v", err)
	}
	log.Printf("ingest: stopped after %d datagrams (%d dropped)", listener.Received(), listener.Dropped())
}

// runIngestWorkers runs the listener, flusher and pruner until ctx is
// cancelled or the listener fails. The flusher's context is cancelled only
// after the listener has returned, so its final flush sees every datagram
// the listener accepted. A listener error other than cancellation is returned.
func runIngestWorkers(ctx context.Context, listen, flush, prune func(context.Context) error) error {
	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	flushCtx, stopFlusher := context.WithCancel(context.Background())
	defer stopFlusher()
	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()

	listenErr := make(chan error, 1)
	go func() { listenErr <- listen(listenCtx) }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := flush(flushCtx); err != nil {
			log.Printf("ingest flusher stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		_ = prune(pruneCtx)
	}()

	var err error
	select {
	case <-ctx.Done():
		stopListener()
		err = <-listenErr
	case err = <-listenErr:
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stopPruner()
	stopFlusher()
	wg.Wait()
	return err
}
