package main

import (
	"context"
	"flag"
	"log"
	"net"
	"strconv"

	"github.com/banshee-data/queue.report/internal/ingest"
)

func runReplay(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	pcapPath := fs.String("pcap", "", "Path to a pcap capture of detection datagrams")
	port := fs.Int("port", -1, "UDP destination port to replay (default: port of ingest_listen; 0 for any)")
	_ = fs.Parse(args)

	if *pcapPath == "" {
		log.Fatal("-pcap is required")
	}
	cfg := common.loadConfig()
	if *port < 0 {
		*port = listenPort(cfg.GetIngestListen())
	}
	database := common.openDB()
	defer database.Close()

	buf := &ingest.Buffer{}
	handler := &ingest.Ingestor{Normalizer: ingest.NewNormalizer(cfg.GetSensors()), Buffer: buf}
	flusher := ingest.NewFlusher(ingest.FlusherConfig{
		Buffer:    buf,
		Store:     database,
		BatchSize: cfg.GetBatchSize(),
	})

	stats, err := ingest.ReplayPCAP(ctx, *pcapPath, *port, handler)
	if err != nil {
		log.Fatalf("replay %s: %v", *pcapPath, err)
	}
	n, err := flusher.FlushNow(ctx)
	if err != nil {
		log.Fatalf("replay %s: %v", *pcapPath, err)
	}
	log.Printf("replay: %d packets, %d accepted, %d rejected, %d detections written",
		stats.Packets, stats.Accepted, stats.Rejected, n)
}

// listenPort extracts the port from a listen address, or 0 when it has none.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
