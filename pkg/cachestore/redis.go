package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the remote backend configuration.
type RedisConfig struct {
	// Addr is the Redis host:port.
	Addr string

	// Password is the optional Redis auth password.
	Password string

	// DB is the Redis database index.
	DB int

	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
}

// RedisStore is the network-backed snapshot store. Every operation blocks on
// the round trip and takes a context; the synchronous serving contract is
// provided by wrapping it in a ShadowAdapter.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     zerolog.Logger
}

// NewRedisStore creates a remote store. The connection is established lazily;
// Ready reports live connectivity.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:     client,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}, nil
}

// GetWithTTL retrieves a record together with its remaining TTL.
// Returns ErrCacheMiss when the key does not exist and ErrInvalidRecord when
// the stored payload fails to deserialize (the corrupt key is removed).
func (s *RedisStore) GetWithTTL(ctx context.Context, key string) (*Record, time.Duration, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues("redis").Inc()
			return nil, 0, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, 0, fmt.Errorf("redis get: %w", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, 0, fmt.Errorf("redis get: %w", err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		// Corrupt payload: drop the key so the next write starts clean.
		DecodeFailures.Inc()
		s.logger.Warn().Str("key", key).Err(err).Msg("Malformed cache payload, treating as miss")
		_, _ = s.Delete(ctx, key)
		return nil, 0, err
	}

	CacheHits.WithLabelValues("redis").Inc()
	return rec, ttlCmd.Val(), nil
}

// Set stores a record with the given TTL. ttl <= 0 applies the default TTL.
func (s *RedisStore) Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	data, err := rec.Marshal()
	if err != nil {
		CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key, returning the number of keys removed.
func (s *RedisStore) Delete(ctx context.Context, key string) (int, error) {
	count, err := s.client.Del(ctx, key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("redis", "delete").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(count), nil
}

// Flush removes every key under the snapshot prefix. Other tenants of the
// Redis instance are untouched.
func (s *RedisStore) Flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			CacheErrors.WithLabelValues("redis", "flush").Inc()
			return fmt.Errorf("redis flush: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("redis", "flush").Inc()
		return fmt.Errorf("redis flush scan: %w", err)
	}
	return nil
}

// Keys lists every key under the snapshot prefix.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis keys scan: %w", err)
	}
	return keys, nil
}

// Entries lists every stored key/record pair. Malformed payloads are skipped.
func (s *RedisStore) Entries(ctx context.Context) ([]KeyedRecord, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]KeyedRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			DecodeFailures.Inc()
			continue
		}
		out = append(out, KeyedRecord{Key: key, Record: rec})
	}
	return out, nil
}

// Ready reports live connection state via a bounded PING.
func (s *RedisStore) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
