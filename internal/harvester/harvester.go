package harvester

import (
	"context"
	"time"

	"eddytools/leadharvester/internal/listing"
	"eddytools/leadharvester/logger"
)

// IndexFetcher is the slice of the extractor the harvester drives
type IndexFetcher interface {
	FetchIndex(ctx context.Context, page int) (urls []string, hasMore bool, err error)
}

// Config bounds one harvest run
type Config struct {
	StartPage  int
	PageBudget int
	PerPageCap int

	// EmptyPageLimit is how many consecutive empty pages end the walk early
	EmptyPageLimit int

	// PageDelay is the pacing interval between page fetches
	PageDelay time.Duration
}

// Result summarizes a finished harvest. Valid once the URL channel closes.
type Result struct {
	PagesFetched int
	PageMisses   int
	URLsEmitted  int
	LastPage     int
	StoppedEarly bool
}

// Harvester walks a source's paginated search index and emits a
// deduplicated, bounded sequence of detail URLs. The sequence is lazy,
// finite and non-restartable; re-harvesting requires a new Harvester with
// an advanced start page.
type Harvester struct {
	source  string
	fetcher IndexFetcher
	cfg     Config
	result  Result
	log     *logger.Logger
}

// New creates a harvester for one source and page range
func New(source string, fetcher IndexFetcher, cfg Config) *Harvester {
	if cfg.EmptyPageLimit < 1 {
		cfg.EmptyPageLimit = 2
	}
	return &Harvester{
		source:  source,
		fetcher: fetcher,
		cfg:     cfg,
		log:     logger.ForHarvester(source),
	}
}

// Harvest starts the walk and returns the URL channel. The channel closes
// when the page budget is spent, the empty-page rule fires, or ctx is
// cancelled. Consumers must drain it in one pass.
func (h *Harvester) Harvest(ctx context.Context) <-chan string {
	out := make(chan string)
	go h.run(ctx, out)
	return out
}

// Result reports the harvest summary. Call only after the URL channel
// has closed.
func (h *Harvester) Result() Result {
	return h.result
}

func (h *Harvester) run(ctx context.Context, out chan<- string) {
	defer close(out)

	seen := make(map[string]struct{})
	emptyStreak := 0
	endPage := h.cfg.StartPage + h.cfg.PageBudget - 1

	for page := h.cfg.StartPage; page <= endPage; page++ {
		if ctx.Err() != nil {
			return
		}
		if page > h.cfg.StartPage && h.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.cfg.PageDelay):
			}
		}

		h.result.LastPage = page
		urls, _, err := h.fetcher.FetchIndex(ctx, page)
		if err != nil {
			// A single page failure is non-fatal; it counts toward the
			// empty-page stop rule
			h.result.PageMisses++
			emptyStreak++
			h.log.Warn().Int("page", page).Err(err).Msg("Index page fetch failed, skipping")
			if emptyStreak >= h.cfg.EmptyPageLimit {
				h.result.StoppedEarly = true
				h.log.Info().Int("page", page).Msg("Stopping harvest after consecutive empty pages")
				return
			}
			continue
		}

		h.result.PagesFetched++

		if len(urls) == 0 {
			emptyStreak++
			h.log.Debug().Int("page", page).Msg("No listings on page")
			if emptyStreak >= h.cfg.EmptyPageLimit {
				h.result.StoppedEarly = true
				h.log.Info().Int("page", page).Msg("Stopping harvest after consecutive empty pages")
				return
			}
			continue
		}
		emptyStreak = 0

		emitted := 0
		for _, raw := range urls {
			if h.cfg.PerPageCap > 0 && emitted >= h.cfg.PerPageCap {
				break
			}
			clean := listing.CanonicalURL(raw)
			if clean == "" {
				continue
			}
			if _, dup := seen[clean]; dup {
				continue
			}
			seen[clean] = struct{}{}

			select {
			case <-ctx.Done():
				return
			case out <- clean:
				emitted++
				h.result.URLsEmitted++
			}
		}

		h.log.Debug().
			Int("page", page).
			Int("found", len(urls)).
			Int("emitted", emitted).
			Msg("Page harvested")
	}
}
