// Package cache keeps rendered home-feed pages in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/redis/go-redis/v9"
)

const (
	generationKey = "feed:generation"
	feedTTL       = 5 * time.Minute
)

var logger = log.New(os.Stdout, "Cache: ", log.Ldate|log.Ltime|log.Lshortfile)

// Redis caches feed pages. Invalidation bumps a generation counter so every
// page cached before it becomes unreachable and expires on its own.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	log.Println("Redis connected successfully")
	return &Redis{client: client}, nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *Redis) key(ctx context.Context, key string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("feed:%d:%s", gen, key), nil
}

// GetFeed returns the cached page for key. On a miss it also returns the
// slot the page belongs in for the generation seen now; a page stored there
// after an invalidation is never read. Any Redis failure is a miss with no
// slot.
func (c *Redis) GetFeed(ctx context.Context, key string) ([]models.Post, string, bool) {
	slot, err := c.key(ctx, key)
	if err != nil {
		logger.Printf("feed generation lookup failed: %v", err)
		return nil, "", false
	}

	result, err := c.client.Get(ctx, slot).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Printf("feed lookup failed: %v", err)
		}
		return nil, slot, false
	}

	var posts []models.Post
	if err := json.Unmarshal([]byte(result), &posts); err != nil {
		logger.Printf("feed entry %s is corrupt: %v", slot, err)
		return nil, slot, false
	}
	return posts, slot, true
}

// SetFeed stores posts in a slot returned by GetFeed. An empty slot is ignored.
func (c *Redis) SetFeed(ctx context.Context, slot string, posts []models.Post) {
	if slot == "" {
		return
	}

	postsJSON, err := json.Marshal(posts)
	if err != nil {
		logger.Printf("encode feed: %v", err)
		return
	}
	if err := c.client.Set(ctx, slot, postsJSON, feedTTL).Err(); err != nil {
		logger.Printf("feed store failed: %v", err)
	}
}

func (c *Redis) InvalidateFeed(ctx context.Context) {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		logger.Printf("feed invalidation failed: %v", err)
	}
}

// Noop never caches.
type Noop struct{}

func (Noop) GetFeed(context.Context, string) ([]models.Post, string, bool) { return nil, "", false }
func (Noop) SetFeed(context.Context, string, []models.Post) {}
func (Noop) InvalidateFeed(context.Context) {}
