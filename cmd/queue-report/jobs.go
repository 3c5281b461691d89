package main

import (
	"context"
	"flag"
	"log"

	"github.com/banshee-data/queue.report/internal/classifier"
	"github.com/banshee-data/queue.report/internal/config"
	"github.com/banshee-data/queue.report/internal/lists"
	"github.com/banshee-data/queue.report/internal/noise"
	"github.com/banshee-data/queue.report/internal/pipeline"
	"github.com/banshee-data/queue.report/internal/presence"
	"github.com/banshee-data/queue.report/internal/schedule"
	"github.com/banshee-data/queue.report/internal/timeutil"
)

func runDenylist(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("denylist", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	once := fs.Bool("once", false, "Run a single cycle and exit")
	_ = fs.Parse(args)

	cfg := common.loadConfig()
	if _, err := lists.LoadAllowList(cfg.GetAllowlistPath()); err != nil {
		log.Fatalf("Failed to load allow list: %v", err)
	}
	database := common.openDB()
	defer database.Close()

	miner := &noise.Miner{
		Source:        database,
		AllowListPath: cfg.GetAllowlistPath(),
		DenyListPath:  cfg.GetDenylistPath(),
		ReadInterval:  cfg.GetNoiseReadInterval(),
		Params:        noise.ParamsFromConfig(cfg),
		Clock:         timeutil.RealClock{},
	}
	sup := schedule.New(jobDenylist, cfg.GetNoiseCycle(), cfg.GetErrorBackoff(), func(ctx context.Context) error {
		res, err := miner.RunOnce(ctx)
		if err == nil && !res.Skipped {
			log.Printf("denylist: %d noise devices from %d detections", res.Noise, res.Detections)
		}
		return err
	})
	sup.Recorder = database
	runSupervisor(ctx, sup, *once)
}

func runPipeline(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	gate := fs.String("gate", "", "Gate to process: north or south")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	_ = fs.Parse(args)

	if *gate != config.GateNorth && *gate != config.GateSouth {
		log.Fatalf("-gate must be %q or %q, got %q", config.GateNorth, config.GateSouth, *gate)
	}
	cfg := common.loadConfig()

	// Missing artifacts are fatal here rather than failing every cycle.
	if _, err := lists.LoadAllowList(cfg.GetAllowlistPath()); err != nil {
		log.Fatalf("Failed to load allow list: %v", err)
	}
	if _, err := lists.LoadDenyList(cfg.GetDenylistPath()); err != nil {
		log.Fatalf("Failed to load denylist: %v", err)
	}
	var clf presence.ZoneClassifier
	if *gate == config.GateSouth {
		model, err := classifier.Load(cfg.GetModelPath())
		if err != nil {
			log.Fatalf("Failed to load zone classifier: %v", err)
		}
		log.Printf("pipeline %s: loaded zone classifier %q", *gate, model.Version)
		clf = model
	}

	database := common.openDB()
	defer database.Close()

	p, err := pipeline.New(cfg, *gate, database, clf, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("Failed to build %s pipeline: %v", *gate, err)
	}
	sup := schedule.New(pipelineJob(*gate), cfg.GetProcessCycle(), cfg.GetErrorBackoff(), func(ctx context.Context) error {
		_, err := p.RunCycle(ctx)
		return err
	})
	sup.Recorder = database
	runSupervisor(ctx, sup, *once)
}

// runSupervisor runs sup until ctx is cancelled, or a single cycle when once
// is set. A failed single cycle exits non-zero.
func runSupervisor(ctx context.Context, sup *schedule.Supervisor, once bool) {
	if once {
		if err := sup.RunOnce(ctx, "manual"); err != nil {
			log.Fatalf("%s: %v", sup.Name, err)
		}
		return
	}
	_ = sup.Run(ctx)
}
