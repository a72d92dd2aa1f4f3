package pipeline

import (
	"context"
	"sync"

	"eddytools/leadharvester/config"
	"eddytools/leadharvester/internal/extractor"
	"eddytools/leadharvester/internal/progress"
	"eddytools/leadharvester/internal/sink"
	"eddytools/leadharvester/logger"
	"eddytools/leadharvester/services/cache"
	"eddytools/leadharvester/services/publisher"
)

// Runner executes one pipeline per enabled source. Sources run
// concurrently and independently; one source failing does not stop the
// others.
type Runner struct {
	cfg        *config.Config
	extractors []extractor.Extractor
	sink       sink.Sink
	store      progress.Store
	cacheSvc   cache.CacheService
	pub        publisher.Publisher
	log        *logger.Logger
}

// NewRunner creates a runner over the given extractors
func NewRunner(cfg *config.Config, extractors []extractor.Extractor, snk sink.Sink, store progress.Store, cacheSvc cache.CacheService, pub publisher.Publisher) *Runner {
	return &Runner{
		cfg:        cfg,
		extractors: extractors,
		sink:       snk,
		store:      store,
		cacheSvc:   cacheSvc,
		pub:        pub,
		log:        logger.ForPipeline("all"),
	}
}

// Run executes one ingestion run across all sources and returns the
// per-source summaries in extractor order.
func (r *Runner) Run(ctx context.Context) []RunSummary {
	summaries := make([]RunSummary, len(r.extractors))

	var wg sync.WaitGroup
	for i, ext := range r.extractors {
		wg.Add(1)
		go func(i int, ext extractor.Extractor) {
			defer wg.Done()
			p := New(r.cfg, ext, r.sink, r.store, r.cacheSvc, r.pub)
			summaries[i] = p.Run(ctx)
		}(i, ext)
	}
	wg.Wait()

	if r.pub != nil {
		if err := r.pub.TrimStreams(); err != nil {
			r.log.WithError(err).Warn().Msg("Stream trim failed")
		}
	}

	var inserted, updated, errs, failed int
	for _, s := range summaries {
		inserted += s.Inserted
		updated += s.Updated
		errs += s.Errors
		if s.Err != nil {
			failed++
		}
	}
	r.log.Info().
		Int("sources", len(summaries)).
		Int("failed", failed).
		Int("inserted", inserted).
		Int("updated", updated).
		Int("errors", errs).
		Msg("All sources finished")

	return summaries
}
