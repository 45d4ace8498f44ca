// Package cache is an optional Redis exact-match cache for buffered
// (non-streamed) completions. A cache hit skips the upstream call
// entirely and is metered at cost 0.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/prompt"
)

// Entry is one cached completion.
type Entry struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
	Model  string `json:"model"`
}

// Cache wraps the Redis client. All failures degrade to a miss; the
// cache is never load-bearing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr.
func New(addr string, ttl time.Duration) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// key derives a deterministic digest of the request's semantic content.
func key(model string, messages []prompt.Message) string {
	payload, _ := json.Marshal(struct {
		Model    string           `json:"model"`
		Messages []prompt.Message `json:"messages"`
	}{model, messages})

	sum := sha256.Sum256(payload)
	return "gw:completion:" + hex.EncodeToString(sum[:])
}

// Get returns the cached completion for an identical request, if any.
func (c *Cache) Get(ctx context.Context, model string, messages []prompt.Message) (*Entry, bool) {
	val, err := c.client.Get(ctx, key(model, messages)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("cache get failed; treating as miss")
		}
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return nil, false
	}
	return &e, true
}

// Set stores a completed response.
func (c *Cache) Set(ctx context.Context, model string, messages []prompt.Message, e *Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(model, messages), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("cache set failed")
	}
}
