package pipeline

import (
	"context"
	"errors"
	"time"

	"eddytools/leadharvester/config"
	"eddytools/leadharvester/internal/extractor"
	"eddytools/leadharvester/internal/harvester"
	"eddytools/leadharvester/internal/listing"
	"eddytools/leadharvester/internal/progress"
	"eddytools/leadharvester/internal/sink"
	"eddytools/leadharvester/logger"
	apperrors "eddytools/leadharvester/pkg/errors"
	"eddytools/leadharvester/services/cache"
	"eddytools/leadharvester/services/publisher"
)

// State is the pipeline phase for one source run
type State string

const (
	StateIdle          State = "idle"
	StateHarvesting    State = "harvesting"
	StateExtracting    State = "extracting"
	StatePersisting    State = "persisting"
	StateCheckpointing State = "checkpointing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// seenWindow is how long an ingested listing URL stays in the seen cache.
// Re-ingesting after expiry is harmless, the upsert is idempotent.
const seenWindow = 6 * time.Hour

// RunSummary reports the outcome of one source run
type RunSummary struct {
	Source      string
	State       State
	StartPage   int
	LastPage    int
	Pages       int
	URLs        int
	Extracted   int
	Misses      int
	SkippedSeen int
	Inserted    int
	Updated     int
	Errors      int
	SourceTotal int64
	RateLimited bool
	Skipped     bool
	Duration    time.Duration
	Err         error
}

// Pipeline runs harvest, extract, persist and checkpoint for one source.
// Each call to Run consumes one page budget and advances the checkpoint;
// re-running the same range is safe because the sink upsert is idempotent.
type Pipeline struct {
	cfg       *config.Config
	extractor extractor.Extractor
	sink      sink.Sink
	store     progress.Store
	cacheSvc  cache.CacheService
	pub       publisher.Publisher
	state     State
	log       *logger.Logger
}

// New creates a pipeline for one source. cacheSvc and pub may be nil;
// the pipeline then runs without the seen cache and without publication.
func New(cfg *config.Config, ext extractor.Extractor, snk sink.Sink, store progress.Store, cacheSvc cache.CacheService, pub publisher.Publisher) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		extractor: ext,
		sink:      snk,
		store:     store,
		cacheSvc:  cacheSvc,
		pub:       pub,
		state:     StateIdle,
		log:       logger.ForPipeline(ext.Source()),
	}
}

// State returns the current pipeline phase
func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) transition(next State) {
	p.log.Debug().Str("from", string(p.state)).Str("to", string(next)).Msg("State transition")
	p.state = next
}

// Run executes one ingestion run for the source. The returned summary is
// always populated; summary.Err carries the structural failure when
// summary.State is failed.
func (p *Pipeline) Run(ctx context.Context) (summary RunSummary) {
	source := p.extractor.Source()
	started := time.Now()
	summary = RunSummary{Source: source, State: StateIdle}

	defer func() {
		summary.State = p.state
		summary.Duration = time.Since(started)
	}()

	if p.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunDeadline)
		defer cancel()
	}

	if cache.IsBlocked(p.cacheSvc, source) {
		p.log.Warn().Msg("Source is inside its rate-limit block window, skipping run")
		summary.Skipped = true
		summary.RateLimited = true
		p.transition(StateDone)
		return summary
	}

	cp, err := p.store.Load(ctx, source)
	if err != nil {
		return p.fail(&summary, err)
	}
	summary.StartPage = cp.NextPage()

	p.transition(StateHarvesting)
	h := harvester.New(source, p.extractor, harvester.Config{
		StartPage:      cp.NextPage(),
		PageBudget:     p.cfg.PagesPerRun,
		PerPageCap:     p.cfg.PerPageCap,
		EmptyPageLimit: p.cfg.EmptyPageLimit,
		PageDelay:      p.cfg.PageDelay,
	})
	urls := h.Harvest(ctx)

	p.transition(StateExtracting)
	records, extracted := p.extract(ctx, source, urls, &summary)

	result := h.Result()
	summary.Pages = result.PagesFetched
	summary.URLs = result.URLsEmitted
	summary.LastPage = result.LastPage
	summary.Extracted = extracted

	if ctx.Err() != nil && !summary.RateLimited {
		return p.fail(&summary, apperrors.NewProgress(source, "run aborted before checkpoint", ctx.Err()))
	}

	p.transition(StatePersisting)
	if len(records) > 0 {
		stats, err := p.sink.Upsert(ctx, records, source)
		summary.Inserted = stats.Inserted
		summary.Updated = stats.Updated
		summary.Errors += stats.Errors
		summary.SourceTotal = stats.SourceTotal
		if err != nil {
			return p.fail(&summary, err)
		}
		p.markSeen(source, records)
		p.publish(source, records)
	}

	// The checkpoint only advances after the batch is durable, so a crash
	// between persist and checkpoint re-scrapes the same pages rather than
	// skipping them.
	p.transition(StateCheckpointing)
	now := time.Now().UTC()
	cp.LastPage = p.nextCheckpointPage(cp.LastPage, result)
	cp.TotalPagesScraped += result.PagesFetched
	// Cumulative count of successfully ingested records; an update is an
	// ingestion too, not just first-time inserts
	cp.TotalListings += summary.Inserted + summary.Updated
	cp.LastRun = &now
	if err := p.store.Save(ctx, source, cp); err != nil {
		return p.fail(&summary, err)
	}

	p.transition(StateDone)
	p.log.Info().
		Int("pages", summary.Pages).
		Int("urls", summary.URLs).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("errors", summary.Errors).
		Int("next_page", cp.NextPage()).
		Msg("Run complete")
	return summary
}

// extract drains the harvested URL sequence into flattened records. A
// rate-limit error stops extraction for the run but keeps what was already
// extracted; everything downstream still persists and checkpoints.
func (p *Pipeline) extract(ctx context.Context, source string, urls <-chan string, summary *RunSummary) ([]*listing.FlatRecord, int) {
	var records []*listing.FlatRecord
	extracted := 0
	first := true

	drain := func() {
		for range urls {
		}
	}

	for u := range urls {
		if ctx.Err() != nil {
			drain()
			break
		}

		if cache.WasSeen(p.cacheSvc, source, u) {
			summary.SkippedSeen++
			continue
		}

		if !first && p.cfg.ListingDelay > 0 {
			select {
			case <-ctx.Done():
				drain()
				return records, extracted
			case <-time.After(p.cfg.ListingDelay):
			}
		}
		first = false

		rec, err := p.extractor.ExtractDetail(ctx, u)
		if err != nil {
			var herr *apperrors.HarvestError
			if errors.As(err, &herr) && herr.Type == apperrors.ErrorTypeRateLimit {
				p.log.Warn().Msg("Rate limited mid-run, stopping extraction")
				summary.RateLimited = true
				drain()
				break
			}
			summary.Errors++
			p.log.WithError(err).WithField("url", u).Warn().Msg("Detail extraction failed, skipping")
			continue
		}
		if rec == nil {
			summary.Misses++
			continue
		}

		flat, err := listing.Flatten(rec)
		if err != nil {
			summary.Errors++
			p.log.WithError(err).WithField("url", u).Warn().Msg("Record rejected")
			continue
		}
		records = append(records, flat)
		extracted++
	}
	return records, extracted
}

// nextCheckpointPage decides where the next run resumes. The walked range
// always advances, even when the walk stopped early on empty pages, so a
// temporarily empty tail page cannot pin the cursor forever.
func (p *Pipeline) nextCheckpointPage(previous int, result harvester.Result) int {
	if result.LastPage > previous {
		return result.LastPage
	}
	return previous
}

func (p *Pipeline) markSeen(source string, records []*listing.FlatRecord) {
	for _, rec := range records {
		cache.MarkSeen(p.cacheSvc, source, rec.ListingURL, seenWindow)
	}
}

// publish forwards persisted records downstream. Publication is best
// effort; a broker outage never fails the run.
func (p *Pipeline) publish(source string, records []*listing.FlatRecord) {
	if p.pub == nil {
		return
	}
	for _, rec := range records {
		if err := p.pub.Publish(source, []byte(rec.RawJSON)); err != nil {
			p.log.WithError(err).Warn().Msg("Publish failed")
			return
		}
	}
}

func (p *Pipeline) fail(summary *RunSummary, err error) RunSummary {
	p.transition(StateFailed)
	summary.Err = err
	p.log.WithError(err).Error().Msg("Run failed")
	return *summary
}
