package site

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one cached response.
type Entry struct {
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Cache stores rendered site responses in Redis under site:<docID>:<path>.
// The keys of a doc are tracked in the set site:<docID>:keys so the whole
// doc can be invalidated at once. A nil Cache, or one without a client,
// is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func entryKey(docID, path string) string { return "site:" + docID + ":" + path }
func keysKey(docID string) string        { return "site:" + docID + ":keys" }

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Get returns the cached entry for path. Redis errors count as a miss.
func (c *Cache) Get(ctx context.Context, docID, path string) (Entry, bool) {
	if !c.enabled() {
		return Entry{}, false
	}
	raw, err := c.client.Get(ctx, entryKey(docID, path)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) Set(ctx context.Context, docID, path string, entry Entry) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := entryKey(docID, path)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, c.ttl)
		pipe.SAdd(ctx, keysKey(docID), key)
		pipe.Expire(ctx, keysKey(docID), c.ttl)
		return nil
	})
	return err
}

// Invalidate drops every cached response of a doc.
func (c *Cache) Invalidate(ctx context.Context, docID string) error {
	if !c.enabled() {
		return nil
	}
	keys, err := c.client.SMembers(ctx, keysKey(docID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, keysKey(docID))
	return c.client.Del(ctx, keys...).Err()
}
