package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"eddytools/leadharvester/config"
	"eddytools/leadharvester/internal/extractor"
	"eddytools/leadharvester/internal/pipeline"
	"eddytools/leadharvester/internal/progress"
	"eddytools/leadharvester/internal/sink"
	"eddytools/leadharvester/logger"
	"eddytools/leadharvester/services/cache"
	"eddytools/leadharvester/services/publisher"
	"eddytools/leadharvester/services/worker"
)

func main() {
	resetFlag := flag.Bool("reset", false, "zero all pagination checkpoints and exit")
	statusFlag := flag.Bool("status", false, "print checkpoints and stored-listing statistics, then exit")
	flag.Parse()

	// A missing .env file is fine, the environment may be set directly
	godotenv.Load()

	logger.Init()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snk, err := sink.NewPostgresSink(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.CommitEvery)
	if err != nil {
		logger.Fatal("Cannot open the listings sink: %v", err)
	}
	defer snk.Close()

	store, err := newProgressStore(ctx, cfg, snk)
	if err != nil {
		logger.Fatal("Cannot open the progress store: %v", err)
	}

	if *resetFlag {
		if err := store.Reset(ctx); err != nil {
			logger.Fatal("Cannot reset checkpoints: %v", err)
		}
		logger.Info("All pagination checkpoints were reset")
		return
	}

	if *statusFlag {
		if err := printStatus(ctx, cfg, store, snk); err != nil {
			logger.Fatal("Cannot read status: %v", err)
		}
		return
	}

	cacheSvc := cache.NewMemcacheService(cfg.MemcacheAddr)

	var pub publisher.Publisher
	if cfg.RedisAddr != "" {
		redisPub := publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamCount, cfg.RedisStreamMaxLength)
		defer redisPub.Close()
		pub = redisPub
	}

	extractors, err := extractor.CreateExtractors(cfg, cacheSvc)
	if err != nil {
		logger.Fatal("Cannot build extractors: %v", err)
	}
	if len(extractors) == 0 {
		logger.Fatal("No extractors enabled, check ENABLED_SOURCES")
	}

	logger.Info("Starting ingestion for %d sources (pages per run: %d)", len(extractors), cfg.PagesPerRun)

	runner := pipeline.NewRunner(cfg, extractors, snk, store, cacheSvc, pub)
	worker.NewWorker(runner, cfg.RunInterval).Start(ctx)

	// Per-source failures are reported in the summaries and logs; the
	// process itself exits cleanly so schedulers do not retry in a loop.
	logger.Info("Shutting down")
}

func newProgressStore(ctx context.Context, cfg *config.Config, snk *sink.PostgresSink) (progress.Store, error) {
	if cfg.ProgressStore == "postgres" {
		return progress.NewPostgresStore(ctx, snk.DB())
	}
	return progress.NewFileStore(cfg.ProgressFile), nil
}

// printStatus reports checkpoints and stored counts without touching any
// source site
func printStatus(ctx context.Context, cfg *config.Config, store progress.Store, snk sink.Sink) error {
	checkpoints, err := store.All(ctx)
	if err != nil {
		return err
	}
	stats, err := snk.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Ingestion status")
	fmt.Println("================")
	for _, source := range config.KnownSources {
		cp := checkpoints[source]
		lastRun := "never"
		if cp.LastRun != nil {
			lastRun = cp.LastRun.Format("2006-01-02 15:04:05 MST")
		}
		fmt.Printf("%-12s next page %-4d pages scraped %-5d listings %-6d stored %-6d last 24h %-5d last run %s\n",
			source, cp.NextPage(), cp.TotalPagesScraped, cp.TotalListings,
			stats.BySource[source], stats.Last24h[source], lastRun)

		recent, err := snk.RecentBySource(ctx, source, 3)
		if err != nil {
			return err
		}
		for _, row := range recent {
			dealer := ""
			if row.DealerName != nil {
				dealer = *row.DealerName
			}
			fmt.Printf("    %s %s %s\n", row.ListingURL, row.DisplayPrice(), dealer)
		}
	}
	fmt.Printf("total stored: %d\n", stats.GrandTotal)
	return nil
}

func init() {
	// flag.Usage stays close to what operators expect from the crontab entry
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--reset | --status]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Without flags, runs one ingestion pass across all enabled sources\n")
		fmt.Fprintf(os.Stderr, "(or loops when RUN_INTERVAL_SECONDS is set).\n\n")
		flag.PrintDefaults()
	}
}
