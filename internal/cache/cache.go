// Package cache stores generated answers in Redis so repeated questions over
// an unchanged manual skip the LLM call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces answer keys in a shared Redis.
const keyPrefix = "manualqa:answer:"

// DefaultTTL is how long an answer stays cached when ANSWER_CACHE_TTL is unset.
const DefaultTTL = time.Hour

// Config holds the Redis connection settings.
type Config struct {
	// Addr is host:port. Empty disables the cache.
	Addr     string
	Password string
	DB       int
	// TTL is the per-answer expiry. Defaults to DefaultTTL if zero.
	TTL time.Duration
}

// ConfigFromEnv reads REDIS_ADDR, REDIS_PASSWORD, REDIS_DB and
// ANSWER_CACHE_TTL. Invalid numbers fall back to defaults.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		TTL:      DefaultTTL,
	}
	if v, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = v
	}
	if v, err := time.ParseDuration(os.Getenv("ANSWER_CACHE_TTL")); err == nil && v > 0 {
		cfg.TTL = v
	}
	return cfg
}

// Enabled reports whether a Redis address is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.Addr != ""
}

// RedisCache is an answer cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a RedisCache. It does not dial; use Ping to verify.
func NewRedis(cfg *Config) (*RedisCache, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cache: REDIS_ADDR is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &RedisCache{client: rdb, ttl: ttl}, nil
}

// Get returns the cached answer for key. A miss returns ok=false and a nil error.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get: %w", err)
	}
	return v, true, nil
}

// Set stores answer under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key, answer string) error {
	if err := c.client.Set(ctx, key, answer, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// Ping tests the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Name labels the cache in readiness responses.
func (c *RedisCache) Name() string { return "redis" }

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Key derives the cache key for one generation. Passage IDs are derived from
// passage content, so a re-ingested manual produces new keys.
func Key(model, lang, question string, passageIDs []string) string {
	h := sha256.New()
	for _, part := range []string{model, lang, question, strings.Join(passageIDs, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}
