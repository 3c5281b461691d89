// Command queue-report ingests WiFi probe detections and publishes queue
// headcounts and queue durations for the north and south gates.
//
// Each long-running subcommand is its own process:
//
//	queue-report ingest              receive datagrams and persist detections
//	queue-report denylist            rebuild the noise denylist hourly
//	queue-report pipeline -gate G    publish headcounts and queue times for a gate
//	queue-report serve               records API, job status and metrics
//	queue-report migrate <action>    manage the database schema
//	queue-report replay -pcap F      backfill detections from a packet capture
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/db"
	"github.com/banshee-data/queue.report/internal/version"
)

// Job names used for supervisors, persisted runs and metrics.
const (
	jobDenylist  = "denylist"
	jobRetention = "retention"
)

func pipelineJob(gate string) string { return "pipeline-" + gate }

// allJobs lists every supervised job, for the status API.
var allJobs = []string{
	pipelineJob(config.GateNorth),
	pipelineJob(config.GateSouth),
	jobDenylist,
	jobRetention,
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	dbPath     string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to JSON config file (defaults are used when empty)")
	fs.StringVar(&c.dbPath, "db", "queue.db", "Path to the SQLite database")
}

func (c *commonFlags) loadConfig() *config.Config {
	if c.configPath == "" {
		return config.DefaultConfig()
	}
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", c.configPath, err)
	}
	return cfg
}

func (c *commonFlags) openDB() *db.DB {
	database, err := db.NewDB(c.dbPath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", c.dbPath, err)
	}
	return database
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: queue-report <command> [flags]

Commands:
  ingest      Receive detection datagrams and persist them
  denylist    Rebuild the noise denylist periodically
  pipeline    Run a gate pipeline (-gate north|south)
  serve       Serve the records API, job status and metrics
  migrate     Manage database migrations
  replay      Ingest detections from a pcap file
  version     Print build information

Run 'queue-report <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "ingest":
		runIngest(ctx, args)
	case "denylist":
		runDenylist(ctx, args)
	case "pipeline":
		runPipeline(ctx, args)
	case "serve":
		runServe(ctx, args)
	case "migrate":
		runMigrate(args)
	case "replay":
		runReplay(ctx, args)
	case "version", "-version", "--version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Usage = func() { db.PrintMigrateHelp(os.Stderr) }
	_ = fs.Parse(args)

	if err := db.RunMigrateCommand(fs.Args(), common.dbPath, os.Stdout); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}
