package cache

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_FeedRoundTripAndInvalidate(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("Skipping test - no Redis configured")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	ctx := context.Background()
	c, err := NewRedis(ctx, fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), port), os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	defer c.Close()

	c.InvalidateFeed(ctx)
	key := "newest::1"
	_, slot, ok := c.GetFeed(ctx, key)
	assert.False(t, ok)
	require.NotEmpty(t, slot)

	posts := []models.Post{{ID: 1, Title: "Why did the scarecrow get a promotion?", AuthorUsername: "Ellen958"}}
	c.SetFeed(ctx, slot, posts)

	got, _, ok := c.GetFeed(ctx, key)
	require.True(t, ok)
	assert.Equal(t, posts[0].Title, got[0].Title)

	c.InvalidateFeed(ctx)
	_, _, ok = c.GetFeed(ctx, key)
	assert.False(t, ok)
}

func newMiniRedis(t *testing.T) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), srv.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedis_PageReadBeforeInvalidateIsNotServed(t *testing.T) {
	c := newMiniRedis(t)
	ctx := context.Background()
	key := "newest::1"

	_, slot, ok := c.GetFeed(ctx, key)
	require.False(t, ok)

	// A like lands between the database read and the cache write.
	c.InvalidateFeed(ctx)
	c.SetFeed(ctx, slot, []models.Post{{ID: 1, LikeCount: 0}})

	_, _, ok = c.GetFeed(ctx, key)
	assert.False(t, ok)

	_, fresh, ok := c.GetFeed(ctx, key)
	require.False(t, ok)
	c.SetFeed(ctx, fresh, []models.Post{{ID: 1, LikeCount: 1}})

	got, _, ok := c.GetFeed(ctx, key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].LikeCount)
}

func TestRedis_EmptySlotIsIgnored(t *testing.T) {
	c := newMiniRedis(t)
	ctx := context.Background()

	c.SetFeed(ctx, "", []models.Post{{ID: 1}})
	_, _, ok := c.GetFeed(ctx, "")
	assert.False(t, ok)
}

func TestNoop_NeverHits(t *testing.T) {
	ctx := context.Background()
	var c Noop
	_, slot, _ := c.GetFeed(ctx, "k")
	c.SetFeed(ctx, slot, []models.Post{{ID: 1}})
	_, _, ok := c.GetFeed(ctx, "k")
	assert.False(t, ok)
}
