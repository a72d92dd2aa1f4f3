package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eddytools/leadharvester/config"
	"eddytools/leadharvester/helpers"
	"eddytools/leadharvester/internal/extractor"
	"eddytools/leadharvester/internal/listing"
	"eddytools/leadharvester/internal/pipeline"
	"eddytools/leadharvester/internal/progress"
	"eddytools/leadharvester/internal/sink"
	apperrors "eddytools/leadharvester/pkg/errors"
)

const indexPageTemplate = `<html><body>
<a href="/buy/listing/%d">Listing</a>
<a href="/buy/listing/%d">Listing</a>
<a href="/about">About us</a>
</body></html>`

const detailPageTemplate = `<html><body>
<h1>2019 Volkswagen Golf GTD</h1>
<span>£%d,450</span>
<ul>
<li>62,000 miles</li>
<li>Diesel</li>
<li>Manual</li>
</ul>
<h3>Riverside Car Sales</h3>
<a href="tel:01772123456">Call</a>
<p>Preston, United Kingdom</p>
</body></html>`

// memorySink is an idempotent in-memory sink for end-to-end runs
type memorySink struct {
	mu   sync.Mutex
	rows map[string]*listing.FlatRecord
}

func (s *memorySink) Upsert(_ context.Context, records []*listing.FlatRecord, source string) (sink.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats sink.UpsertStats
	for _, rec := range records {
		key := rec.Source + "|" + rec.ListingURL
		if _, exists := s.rows[key]; exists {
			stats.Updated++
		} else {
			stats.Inserted++
		}
		s.rows[key] = rec
	}
	stats.SourceTotal = int64(len(s.rows))
	stats.GrandTotal = int64(len(s.rows))
	return stats, nil
}

func (s *memorySink) Stats(context.Context) (sink.SourceStats, error) {
	return sink.SourceStats{}, nil
}

func (s *memorySink) RecentBySource(context.Context, string, int) ([]sink.RecentListing, error) {
	return nil, nil
}

func (s *memorySink) Close() error { return nil }

func newListingSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/buy/search", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			fmt.Fprintf(w, indexPageTemplate, 101, 102)
		case "2":
			fmt.Fprintf(w, indexPageTemplate, 103, 104)
		default:
			fmt.Fprint(w, `<html><body>No results</body></html>`)
		}
	})
	mux.HandleFunc("/buy/listing/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, detailPageTemplate, 9)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>About</body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PagesPerRun:    2,
		PerPageCap:     10,
		EmptyPageLimit: 2,
		CommitEvery:    50,
	}
}

func newSiteExtractor(t *testing.T, server *httptest.Server) extractor.Extractor {
	t.Helper()
	indexFetcher, err := helpers.NewFetcher(5*time.Second, "")
	require.NoError(t, err)

	return extractor.NewSiteExtractor(extractor.SourceConfig{
		Source:       "pistonheads",
		BaseURL:      server.URL,
		SearchURL:    server.URL + "/buy/search",
		PageParam:    "page",
		LinkPatterns: []string{"/buy/listing/"},
	}, indexFetcher, indexFetcher, nil, 0)
}

func TestFullIngestionRun(t *testing.T) {
	server := newListingSite(t)
	cfg := integrationConfig(t)

	snk := &memorySink{rows: make(map[string]*listing.FlatRecord)}
	store := progress.NewFileStore(filepath.Join(t.TempDir(), "scraping_progress.json"))
	ext := newSiteExtractor(t, server)

	summary := pipeline.New(cfg, ext, snk, store, nil, nil).Run(context.Background())

	require.NoError(t, summary.Err)
	assert.Equal(t, pipeline.StateDone, summary.State)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 4, summary.URLs)
	assert.Equal(t, 4, summary.Inserted)
	assert.Len(t, snk.rows, 4)

	// Parsed attributes made it through to the flattened rows
	for _, rec := range snk.rows {
		assert.Equal(t, "2019 Volkswagen Golf GTD", rec.Title)
		assert.Equal(t, "Volkswagen", rec.Make)
		assert.Equal(t, "2019", rec.Year)
		assert.Equal(t, "Diesel", rec.FuelType)
		assert.Equal(t, "Riverside Car Sales", rec.DealerName)
		assert.Equal(t, "01772123456", rec.DealerPhone)
		assert.Equal(t, "Preston", rec.DealerCity)
		require.NotNil(t, rec.PricePence)
		assert.Equal(t, int64(945000), *rec.PricePence)
		require.NotNil(t, rec.Mileage)
		assert.Equal(t, int64(62000), *rec.Mileage)
	}

	cp, err := store.Load(context.Background(), "pistonheads")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastPage)
	assert.Equal(t, 4, cp.TotalListings)

	// The next run resumes past the walked range and finds only empty
	// pages, so nothing new is stored but the run still completes.
	second := pipeline.New(cfg, ext, snk, store, nil, nil).Run(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, pipeline.StateDone, second.State)
	assert.Equal(t, 0, second.Inserted)
	assert.Len(t, snk.rows, 4)

	cp, err = store.Load(context.Background(), "pistonheads")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.LastPage)
}

func TestReRunAfterResetIsIdempotent(t *testing.T) {
	server := newListingSite(t)
	cfg := integrationConfig(t)

	snk := &memorySink{rows: make(map[string]*listing.FlatRecord)}
	store := progress.NewFileStore(filepath.Join(t.TempDir(), "scraping_progress.json"))
	ext := newSiteExtractor(t, server)

	first := pipeline.New(cfg, ext, snk, store, nil, nil).Run(context.Background())
	require.NoError(t, first.Err)
	assert.Equal(t, 4, first.Inserted)

	require.NoError(t, store.Reset(context.Background()))

	second := pipeline.New(cfg, ext, snk, store, nil, nil).Run(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 4, second.Updated)
	assert.Len(t, snk.rows, 4)
}

func TestStructuralFailureSurfacesInSummary(t *testing.T) {
	server := newListingSite(t)
	cfg := integrationConfig(t)

	snk := &failingSink{}
	store := progress.NewFileStore(filepath.Join(t.TempDir(), "scraping_progress.json"))
	ext := newSiteExtractor(t, server)

	summary := pipeline.New(cfg, ext, snk, store, nil, nil).Run(context.Background())

	require.Error(t, summary.Err)
	assert.Equal(t, pipeline.StateFailed, summary.State)

	// The checkpoint stays put so the next run re-covers the lost pages
	cp, err := store.Load(context.Background(), "pistonheads")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.LastPage)
}

type failingSink struct{}

func (s *failingSink) Upsert(_ context.Context, _ []*listing.FlatRecord, source string) (sink.UpsertStats, error) {
	return sink.UpsertStats{}, apperrors.NewStorage(source, "sink unavailable", nil)
}

func (s *failingSink) Stats(context.Context) (sink.SourceStats, error) {
	return sink.SourceStats{}, nil
}

func (s *failingSink) RecentBySource(context.Context, string, int) ([]sink.RecentListing, error) {
	return nil, nil
}

func (s *failingSink) Close() error { return nil }
