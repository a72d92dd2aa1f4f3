package helpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("referer"))
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	fetcher, err := NewFetcher(5*time.Second, "")
	require.NoError(t, err)

	body, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.NotNil(t, body)
}

func TestFetchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	fetcher, err := NewFetcher(5*time.Second, "")
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	fetcher, err := NewFetcher(5*time.Second, "")
	require.NoError(t, err)

	body, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Equal(t, 3, calls)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher, err := NewFetcher(5*time.Second, "")
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsRateLimited(err))
}

func TestNewFetcherRejectsBadProxy(t *testing.T) {
	_, err := NewFetcher(time.Second, "://not-a-url")
	assert.Error(t, err)
}

func TestAbsoluteURL(t *testing.T) {
	assert.Equal(t, "https://x.com/a", AbsoluteURL("https://x.com", "/a"))
	assert.Equal(t, "https://x.com/a", AbsoluteURL("https://x.com/", "a"))
	assert.Equal(t, "https://other.com/b", AbsoluteURL("https://x.com", "https://other.com/b"))
	assert.Equal(t, "", AbsoluteURL("https://x.com", ""))
}
