package cachestore

import (
	"time"

	"github.com/rs/zerolog"
)

// Backend type names accepted by Config.Type.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// DefaultReadyTimeout bounds the wait for the remote backend at startup.
const DefaultReadyTimeout = 5 * time.Second

// Config selects and parameterizes the cache backend at startup.
type Config struct {
	// Type is the configured backend: "memory" or "redis".
	Type string

	// TTL is the default record TTL.
	TTL time.Duration

	// MaxEntries bounds the memory store.
	MaxEntries int

	// RedisAddr is the remote host:port, required for Type "redis".
	RedisAddr string

	// RedisPassword is the optional remote auth password.
	RedisPassword string

	// RedisDB is the remote database index.
	RedisDB int

	// ReadyTimeout bounds the startup wait for remote readiness.
	// Zero applies DefaultReadyTimeout.
	ReadyTimeout time.Duration
}

// DefaultConfig returns a memory-backed configuration.
func DefaultConfig() Config {
	return Config{
		Type:         TypeMemory,
		TTL:          time.Hour,
		MaxEntries:   DefaultMaxEntries,
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// CreateCache constructs the configured backend. When the remote backend
// cannot be constructed or does not become ready within the timeout, it logs
// and falls back to a fresh MemoryStore. Cache creation never fails: the
// returned backend is always usable and Ready.
func CreateCache(cfg Config, logger zerolog.Logger) Backend {
	if cfg.Type != TypeRedis {
		return NewMemoryStore(cfg.MaxEntries, cfg.TTL)
	}

	remote, err := NewRedisStore(RedisConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		DefaultTTL: cfg.TTL,
	}, logger)
	if err != nil {
		BackendFallbacks.Inc()
		logger.Warn().Err(err).Msg("Remote cache construction failed, falling back to memory store")
		return NewMemoryStore(cfg.MaxEntries, cfg.TTL)
	}

	if !waitReady(remote, cfg.ReadyTimeout) {
		BackendFallbacks.Inc()
		logger.Warn().
			Str("addr", cfg.RedisAddr).
			Dur("timeout", readyTimeout(cfg.ReadyTimeout)).
			Msg("Remote cache not ready, falling back to memory store")
		// Release the half-constructed remote before abandoning it.
		if err := remote.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing unready remote cache failed")
		}
		return NewMemoryStore(cfg.MaxEntries, cfg.TTL)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Remote cache ready")
	return NewShadowAdapter(remote, logger)
}

// waitReady polls the remote's readiness until it reports true or the
// timeout elapses.
func waitReady(remote Remote, timeout time.Duration) bool {
	deadline := time.Now().Add(readyTimeout(timeout))
	for {
		if remote.Ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func readyTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultReadyTimeout
	}
	return timeout
}
