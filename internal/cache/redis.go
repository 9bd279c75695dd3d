package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	tokenKey     = "wcl:access_token"
	tokenLockKey = "lock:wcl:access_token"

	lockPollInterval = 100 * time.Millisecond
)

// Config holds Redis connection settings
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int

	// LockTTL bounds how long a crashed holder can keep the token lock
	LockTTL time.Duration
}

// RedisCache shares the ranking service token between workers and clears the
// read-side meta snapshots after a cycle
type RedisCache struct {
	client  *redis.Client
	lockTTL time.Duration
}

// releaseScript deletes the lock only if this caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg Config) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	log.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Int("db", cfg.DB).
		Msg("Successfully connected to redis")

	return &RedisCache{client: rdb, lockTTL: lockTTL}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Health pings Redis
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type storedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoadToken reads the shared token. A missing key is not an error.
func (c *RedisCache) LoadToken(ctx context.Context) (models.AccessToken, bool, error) {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("token_get", time.Since(start).Seconds()) }()

	data, err := c.client.Get(ctx, tokenKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AccessToken{}, false, nil
		}
		return models.AccessToken{}, false, fmt.Errorf("failed to get token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return models.AccessToken{}, false, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return models.AccessToken{Value: st.Value, ExpiresAt: st.ExpiresAt}, true, nil
}

// SaveToken stores the token until its usable expiry
func (c *RedisCache) SaveToken(ctx context.Context, token models.AccessToken) error {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("token_set", time.Since(start).Seconds()) }()

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(storedToken{Value: token.Value, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	return c.client.Set(ctx, tokenKey, data, ttl).Err()
}

// DeleteToken drops the shared token if it still holds value. A token that
// another worker stored in the meantime is kept.
func (c *RedisCache) DeleteToken(ctx context.Context, value string) error {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("token_delete", time.Since(start).Seconds()) }()

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, tokenKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var st storedToken
		if err := json.Unmarshal(data, &st); err == nil && st.Value != value {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, tokenKey)
			return nil
		})
		return err
	}, tokenKey)

	if errors.Is(err, redis.TxFailedErr) {
		// The key changed under WATCH, so it no longer holds value
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// AcquireLock takes the token refresh lock, polling until wait elapses. The
// lock expires on its own after LockTTL so a crashed worker cannot hold it.
func (c *RedisCache) AcquireLock(ctx context.Context, wait time.Duration) (func(context.Context), error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := c.client.SetNX(ctx, tokenLockKey, owner, c.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) {
				if err := releaseScript.Run(ctx, c.client, []string{tokenLockKey}, owner).Err(); err != nil {
					log.Warn().Err(err).Msg("Failed to release token lock")
				}
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, client.ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// InvalidateMeta deletes every read-side snapshot key matching pattern and
// returns how many keys were removed
func (c *RedisCache) InvalidateMeta(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("invalidate", time.Since(start).Seconds()) }()

	deleted := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan keys: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	log.Debug().
		Str("pattern", pattern).
		Int("deleted", deleted).
		Msg("Invalidated meta cache")

	return deleted, nil
}

var _ client.TokenStore = (*RedisCache)(nil)
