package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"gradbench/internal/config"
	"gradbench/internal/hostinfo"
	"gradbench/internal/results"
	"gradbench/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults to the reference benchmark)")
	variant := flag.String("variant", "", "inference, differentiable or compare")
	iterations := flag.Int("iterations", 0, "Number of iterations (0 allowed)")
	seed := flag.Uint64("seed", 0, "PRNG seed")
	lr := flag.Float64("lr", 0, "Adam learning rate")
	logEvery := flag.Int("log-every", 0, "Log every N iterations")
	resultsDB := flag.String("results-db", "", "SQLite file to record results in")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	overrides := config.Overrides{
		Variant:      *variant,
		LearningRate: *lr,
		LogEvery:     *logEvery,
		ResultsDB:    *resultsDB,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iterations":
			overrides.Iterations = iterations
		case "seed":
			overrides.Seed = seed
		}
	})
	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	host := hostinfo.Detect()
	log.Printf("host %s", host)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		RunID:         uuid.NewString(),
		Iterations:    cfg.Iterations,
		Seed:          cfg.Seed,
		LearningRate:  cfg.LearningRate,
		Differentiate: cfg.Variant == config.VariantDifferentiable,
		LogEvery:      cfg.LogEvery,
		CheckFinite:   cfg.CheckFinite,
	}

	var runs []*trainer.Result
	switch cfg.Variant {
	case config.VariantCompare:
		cmp, err := trainer.Compare(ctx, runCfg)
		if err != nil {
			log.Fatalf("benchmark failed: %v", err)
		}
		fmt.Printf("inference: %s\n", cmp.Inference.Elapsed)
		fmt.Printf("differentiable: %s\n", cmp.Differentiable.Elapsed)
		fmt.Printf("loss: %v\n", cmp.Differentiable.FinalLoss)
		fmt.Printf("overhead: %.2fx\n", cmp.Overhead)
		runs = append(runs, cmp.Inference, cmp.Differentiable)
	default:
		res, err := trainer.Run(ctx, runCfg)
		if err != nil {
			log.Fatalf("benchmark failed: %v", err)
		}
		log.Printf("run=%s variant=%s iterations=%d elapsed=%s", res.RunID, res.Variant, res.Iterations, res.Elapsed)
		if res.Reported {
			fmt.Printf("loss: %v\n", res.FinalLoss)
		}
		runs = append(runs, res)
	}

	if cfg.ResultsDB != "" {
		if err := record(ctx, cfg, host, runs); err != nil {
			log.Fatalf("failed to record results: %v", err)
		}
	}
}

func record(ctx context.Context, cfg *config.Config, host hostinfo.Host, runs []*trainer.Result) error {
	rows := make([]results.Run, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, results.Run{
			ID:           r.RunID,
			Variant:      string(r.Variant),
			Iterations:   r.Iterations,
			Seed:         cfg.Seed,
			LearningRate: cfg.LearningRate,
			Elapsed:      r.Elapsed,
			FinalLoss:    sql.NullFloat64{Float64: r.FinalLoss, Valid: r.Reported},
			Host:         host.String(),
		})
	}
	if err := results.Save(ctx, cfg.ResultsDB, rows); err != nil {
		return err
	}
	log.Printf("recorded %d run(s) in %s", len(rows), cfg.ResultsDB)
	return nil
}
