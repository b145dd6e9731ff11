package dedup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store is a minimal durable dedup interface for sharing MarkSeen records
// across multiple aggregator processes (spec.md §4.1 "markSeen ... to sync
// with the aggregator's durable dedup"). Engine does not call a Store, and
// cmd/lineaged does not construct one.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore is a Redis-backed Store, mirroring the priority/sources record
// as a compact "<priority>|<source1>,<source2>,..." value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore using the given address (e.g.
// "localhost:6379") and verifies connectivity.
func NewRedisStore(addr string) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: c}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

// SyncMarkSeen records the dedup entry in the durable store so that other
// aggregator processes observing the same session can short-circuit.
func SyncMarkSeen(ctx context.Context, store Store, ttl time.Duration, sessionID string, contentHash uint64, priority int, sources []Source) error {
	if store == nil {
		return nil
	}
	key := redisKey(sessionID, contentHash)
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	value := strconv.Itoa(priority) + "|" + strings.Join(names, ",")
	return store.Set(ctx, key, value, ttl)
}

func redisKey(sessionID string, contentHash uint64) string {
	return "lineage:dedup:" + sessionID + ":" + strconv.FormatUint(contentHash, 16)
}
