package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/queue.report/internal/api"
)

func runServe(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", "", "HTTP listen address (overrides api_listen)")
	_ = fs.Parse(args)

	cfg := common.loadConfig()
	database := common.openDB()
	defer database.Close()

	addr := cfg.GetAPIListen()
	if *listen != "" {
		addr = *listen
	}

	mux := http.NewServeMux()
	// Admin routes are served under /debug/ (tsweb only allows them from
	// loopback or over Tailscale).
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("Failed to attach admin routes: %v", err)
	}
	mux.Handle("/", api.NewServer(database, allJobs).Routes())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("serve: listening on %s", addr)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
