package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/clearance/models"
)

func TestKey(t *testing.T) {
	assert.Equal(t, Key("get", "https://example.com/"), Key("GET", "https://example.com/"))
	assert.NotEqual(t, Key("GET", "https://example.com/"), Key("POST", "https://example.com/"))
	assert.Len(t, Key("GET", "x"), 64)
	assert.NotEqual(t, Key("GET", "x", "markdown"), Key("GET", "x", "text"))
}

func TestGetRespectsMaxAge(t *testing.T) {
	c := newCache(10)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", &models.FetchResponse{Success: true, Body: "hello"})

	_, hit := c.Get("k", 0)
	assert.False(t, hit, "max age 0 disables lookup")

	now = now.Add(500 * time.Millisecond)
	got, hit := c.Get("k", 1000)
	require.True(t, hit)
	assert.Equal(t, "hello", got.Body)

	now = now.Add(time.Second)
	_, hit = c.Get("k", 1000)
	assert.False(t, hit)
}

func TestGetReturnsCopy(t *testing.T) {
	c := newCache(10)
	c.Set("k", &models.FetchResponse{Body: "a"})

	got, hit := c.Get("k", 60000)
	require.True(t, hit)
	got.CacheStatus = "hit"

	again, _ := c.Get("k", 60000)
	assert.Empty(t, again.CacheStatus)
}

func TestSetEvictsAtCapacity(t *testing.T) {
	c := newCache(2)
	c.Set("a", &models.FetchResponse{})
	c.Set("b", &models.FetchResponse{})
	c.Set("b", &models.FetchResponse{})
	assert.Equal(t, 2, c.Len(), "overwriting does not evict")

	c.Set("c", &models.FetchResponse{})
	assert.Equal(t, 2, c.Len())
	_, hit := c.Get("c", 60000)
	assert.True(t, hit)
}

func TestEvictAndPurge(t *testing.T) {
	c := newCache(10)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	c.Set("old", &models.FetchResponse{})
	now = now.Add(2 * time.Hour)
	c.Set("new", &models.FetchResponse{})

	c.evictOlderThan(now.Add(-time.Hour))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Zero(t, c.Len())
}
