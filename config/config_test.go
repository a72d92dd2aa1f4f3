package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, "localhost:11211", config.MemcacheAddr)
	assert.Equal(t, "file", config.ProgressStore)
	assert.Equal(t, "scraping_progress.json", config.ProgressFile)
	assert.Equal(t, 3, config.PagesPerRun)
	assert.Equal(t, 10, config.PerPageCap)
	assert.Equal(t, 2, config.EmptyPageLimit)
	assert.Equal(t, 50, config.CommitEvery)
	assert.Equal(t, 3*time.Second, config.PageDelay)
	assert.Equal(t, 2*time.Second, config.ListingDelay)
	assert.Equal(t, []string{"pistonheads", "aa", "cazoo", "gumtree"}, config.EnabledSources)

	// Test with environment variables
	os.Setenv("REDIS_ADDR", "redis.example.com:6379")
	os.Setenv("PAGES_PER_RUN", "5")
	os.Setenv("PER_PAGE_CAP", "25")
	os.Setenv("EMPTY_PAGE_LIMIT", "1")
	os.Setenv("PAGE_DELAY_SECONDS", "1")
	os.Setenv("ENABLED_SOURCES", "pistonheads, aa")

	config = LoadConfig()
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 5, config.PagesPerRun)
	assert.Equal(t, 25, config.PerPageCap)
	assert.Equal(t, 1, config.EmptyPageLimit)
	assert.Equal(t, 1*time.Second, config.PageDelay)
	assert.Equal(t, []string{"pistonheads", "aa"}, config.EnabledSources)

	// Clean up
	os.Unsetenv("REDIS_ADDR")
	os.Unsetenv("PAGES_PER_RUN")
	os.Unsetenv("PER_PAGE_CAP")
	os.Unsetenv("EMPTY_PAGE_LIMIT")
	os.Unsetenv("PAGE_DELAY_SECONDS")
	os.Unsetenv("ENABLED_SOURCES")
}

func TestValidate(t *testing.T) {
	config := LoadConfig()
	assert.NoError(t, config.Validate())

	bad := *config
	bad.PagesPerRun = 0
	assert.Error(t, bad.Validate())

	bad = *config
	bad.EmptyPageLimit = 3
	assert.Error(t, bad.Validate())

	bad = *config
	bad.ProgressStore = "dynamo"
	assert.Error(t, bad.Validate())

	// A zero stream count would make the publisher's shard pick panic
	bad = *config
	bad.RedisStreamCount = 0
	assert.Error(t, bad.Validate())

	// Stream count is irrelevant when publishing is disabled
	bad = *config
	bad.RedisAddr = ""
	bad.RedisStreamCount = 0
	assert.NoError(t, bad.Validate())

	bad = *config
	bad.EnabledSources = []string{"autotrader"}
	assert.Error(t, bad.Validate())

	bad = *config
	bad.EnabledSources = nil
	assert.Error(t, bad.Validate())
}

func TestSourceURL(t *testing.T) {
	config := LoadConfig()
	assert.Contains(t, config.SourceURL("pistonheads"), "pistonheads.com")
	assert.Contains(t, config.SourceURL("aa"), "theaa.com")
	assert.Contains(t, config.SourceURL("cazoo"), "cazoo.co.uk")
	assert.Contains(t, config.SourceURL("gumtree"), "gumtree.com")
	assert.Equal(t, "", config.SourceURL("unknown"))
}
