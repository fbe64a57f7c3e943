package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/dialogue"
	"github.com/azentyk/voice-appointments/internal/locks"
	"github.com/azentyk/voice-appointments/internal/sessions"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const (
	backendRedis  = "redis"
	backendMemory = "memory"

	lockWait = 5 * time.Second
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore picks the call-state backend. A redis backend without a
// reachable client falls back to memory.
func BuildSessionStore(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) sessions.Store {
	if cfg.SessionBackend == backendRedis {
		if redisClient != nil {
			logger.Info("session store ready", "backend", backendRedis, "ttl", cfg.SessionTTL)
			return sessions.NewRedisStore(redisClient, cfg.SessionTTL)
		}
		logger.Warn("redis session backend requested but redis is unavailable; using memory")
	}
	logger.Info("session store ready", "backend", backendMemory, "ttl", cfg.SessionTTL)
	return sessions.NewMemoryStore(sessions.WithSessionTTL(cfg.SessionTTL))
}

// BuildHistoryStore keeps dialogue threads in Redis when available.
func BuildHistoryStore(cfg *appconfig.Config, redisClient *redis.Client) dialogue.HistoryStore {
	if redisClient == nil {
		return dialogue.NewMemoryHistoryStore(cfg.HistoryTTL)
	}
	return dialogue.NewRedisHistoryStore(redisClient, cfg.HistoryTTL)
}

// BuildLocker serializes appointment writes across processes through Redis,
// or within this process otherwise.
func BuildLocker(cfg *appconfig.Config, redisClient *redis.Client) locks.Locker {
	if redisClient == nil {
		return locks.NewLocalLocker()
	}
	return locks.NewRedisLocker(redisClient, cfg.LockTTL, lockWait)
}
