package harvester

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedFetcher serves canned pages keyed by page number
type pagedFetcher struct {
	pages   map[int][]string
	errs    map[int]error
	fetched []int
}

func (f *pagedFetcher) FetchIndex(ctx context.Context, page int) ([]string, bool, error) {
	f.fetched = append(f.fetched, page)
	if err, ok := f.errs[page]; ok {
		return nil, false, err
	}
	urls := f.pages[page]
	return urls, len(urls) > 0, nil
}

func drain(ch <-chan string) []string {
	var out []string
	for u := range ch {
		out = append(out, u)
	}
	return out
}

func TestHarvestWalksPageRange(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		4: {"https://x/listing/a"},
		5: {"https://x/listing/b"},
		6: {"https://x/listing/c"},
	}}

	h := New("pistonheads", fetcher, Config{StartPage: 4, PageBudget: 3, PerPageCap: 10})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b", "https://x/listing/c"}, urls)
	assert.Equal(t, []int{4, 5, 6}, fetcher.fetched)

	result := h.Result()
	assert.Equal(t, 3, result.PagesFetched)
	assert.Equal(t, 3, result.URLsEmitted)
	assert.Equal(t, 6, result.LastPage)
	assert.False(t, result.StoppedEarly)
}

func TestHarvestDedupsByCanonicalURL(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/listing/a", "https://x/listing/b", "https://x/listing/b?ref=x"},
	}}

	h := New("pistonheads", fetcher, Config{StartPage: 1, PageBudget: 1, PerPageCap: 10})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b"}, urls)
}

func TestHarvestDedupsAcrossPages(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/listing/a", "https://x/listing/b"},
		2: {"https://x/listing/b", "https://x/listing/c"},
	}}

	h := New("aa", fetcher, Config{StartPage: 1, PageBudget: 2, PerPageCap: 10})
	urls := drain(h.Harvest(context.Background()))

	// First occurrence wins
	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b", "https://x/listing/c"}, urls)
}

func TestHarvestEarlyStopAfterConsecutiveEmptyPages(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/listing/a"},
		2: {"https://x/listing/b"},
		// pages 3-4 empty
		5: {"https://x/listing/never"},
	}}

	h := New("aa", fetcher, Config{StartPage: 1, PageBudget: 10, PerPageCap: 10, EmptyPageLimit: 2})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b"}, urls)
	// Page 5 is never attempted
	assert.Equal(t, []int{1, 2, 3, 4}, fetcher.fetched)
	assert.True(t, h.Result().StoppedEarly)
}

func TestHarvestSingleEmptyPageDoesNotStop(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/listing/a"},
		// page 2 empty
		3: {"https://x/listing/b"},
	}}

	h := New("cazoo", fetcher, Config{StartPage: 1, PageBudget: 3, PerPageCap: 10, EmptyPageLimit: 2})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b"}, urls)
}

func TestHarvestEmptyPageLimitOne(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/listing/a"},
	}}

	h := New("cazoo", fetcher, Config{StartPage: 1, PageBudget: 5, PerPageCap: 10, EmptyPageLimit: 1})
	drain(h.Harvest(context.Background()))

	assert.Equal(t, []int{1, 2}, fetcher.fetched)
	assert.True(t, h.Result().StoppedEarly)
}

func TestHarvestPerPageCap(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/1", "https://x/2", "https://x/3", "https://x/4"},
		2: {"https://x/5", "https://x/6"},
	}}

	h := New("gumtree", fetcher, Config{StartPage: 1, PageBudget: 2, PerPageCap: 2})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/1", "https://x/2", "https://x/5", "https://x/6"}, urls)
}

func TestHarvestPageFailureIsNonFatal(t *testing.T) {
	fetcher := &pagedFetcher{
		pages: map[int][]string{
			1: {"https://x/listing/a"},
			3: {"https://x/listing/b"},
		},
		errs: map[int]error{2: errors.New("connection reset")},
	}

	h := New("pistonheads", fetcher, Config{StartPage: 1, PageBudget: 3, PerPageCap: 10})
	urls := drain(h.Harvest(context.Background()))

	assert.Equal(t, []string{"https://x/listing/a", "https://x/listing/b"}, urls)
	assert.Equal(t, 1, h.Result().PageMisses)
}

func TestHarvestAllPagesEmptyReturnsNoURLsWithoutError(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{}}

	h := New("aa", fetcher, Config{StartPage: 7, PageBudget: 5, PerPageCap: 10, EmptyPageLimit: 2})
	urls := drain(h.Harvest(context.Background()))

	assert.Empty(t, urls)
	assert.True(t, h.Result().StoppedEarly)
}

func TestHarvestHonorsCancellation(t *testing.T) {
	fetcher := &pagedFetcher{pages: map[int][]string{
		1: {"https://x/1", "https://x/2"},
		2: {"https://x/3"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	h := New("aa", fetcher, Config{StartPage: 1, PageBudget: 2, PerPageCap: 10})

	ch := h.Harvest(ctx)
	first, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "https://x/1", first)
	cancel()

	// Channel closes without emitting the rest
	var rest []string
	for u := range ch {
		rest = append(rest, u)
	}
	assert.LessOrEqual(t, len(rest), 1)
}
