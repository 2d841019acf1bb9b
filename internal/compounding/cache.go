package compounding

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/config"
)

// RelatedCache is an advisory, never-authoritative cache of a single
// entry's related_entries list, keyed by (user_id, entry_id). Per spec.md
// section 5: "Caches ... are advisory — correctness never depends on
// them." Engine methods always read related_entries from the Record Store;
// they write each new list through to the cache but never read it back.
type RelatedCache interface {
	Get(ctx context.Context, userID, entryID string) ([]string, bool)
	Set(ctx context.Context, userID, entryID string, related []string)
}

// NewRelatedCache returns a Redis-backed cache when cfg.Enabled, else an
// in-process map fallback — the engine works identically either way,
// grounded on the teacher's RedisSkillsCache nil-receiver-safe pattern.
func NewRelatedCache(cfg config.RedisConfig, ttl time.Duration, log zerolog.Logger) RelatedCache {
	if !cfg.Enabled {
		return newMemCache()
	}
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("redis related_entries cache unreachable, falling back to in-process cache")
		return newMemCache()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisCache{client: client, ttl: ttl, log: log}
}

type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

func (c *redisCache) key(userID, entryID string) string {
	return fmt.Sprintf("kela:related:%s:%s", userID, entryID)
}

func (c *redisCache) Get(ctx context.Context, userID, entryID string) ([]string, bool) {
	val, err := c.client.Get(ctx, c.key(userID, entryID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Msg("related_entries cache get failed")
		}
		return nil, false
	}
	var related []string
	if err := json.Unmarshal([]byte(val), &related); err != nil {
		c.log.Debug().Err(err).Msg("related_entries cache unmarshal failed")
		return nil, false
	}
	return related, true
}

func (c *redisCache) Set(ctx context.Context, userID, entryID string, related []string) {
	data, err := json.Marshal(related)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID, entryID), data, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Msg("related_entries cache set failed")
	}
}

type memCache struct {
	mu sync.RWMutex
	m  map[string][]string
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]string)} }

func (c *memCache) key(userID, entryID string) string { return userID + "\x00" + entryID }

func (c *memCache) Get(_ context.Context, userID, entryID string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[c.key(userID, entryID)]
	return v, ok
}

func (c *memCache) Set(_ context.Context, userID, entryID string, related []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(userID, entryID)] = append([]string(nil), related...)
}
