package worker

import (
	"context"
	"time"

	"eddytools/leadharvester/internal/pipeline"
	"eddytools/leadharvester/logger"
)

// Runner is the slice of the pipeline the worker drives
type Runner interface {
	Run(ctx context.Context) []pipeline.RunSummary
}

// Worker runs ingestion on a fixed interval. With a zero interval it runs
// exactly once, which is how cron deployments invoke the binary.
type Worker struct {
	runner   Runner
	interval time.Duration
	log      *logger.Logger
}

// NewWorker creates a worker around a pipeline runner
func NewWorker(runner Runner, interval time.Duration) *Worker {
	return &Worker{
		runner:   runner,
		interval: interval,
		log:      logger.ForWorker(),
	}
}

// Start runs ingestion until ctx is cancelled. The interval is measured
// from the end of one run to the start of the next, so slow runs never
// overlap.
func (w *Worker) Start(ctx context.Context) {
	for {
		start := time.Now()
		summaries := w.runner.Run(ctx)
		w.log.Info().
			Dur("elapsed", time.Since(start)).
			Int("sources", len(summaries)).
			Msg("Ingestion run finished")

		if w.interval <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}
