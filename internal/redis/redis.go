// Package redis snapshots live session state for external consumers.
//
// The gateway writes the latest inbound context per session under a
// "session:" key; dashboards and the status command read it back.
// Snapshots are advisory: when Redis is unreachable or unconfigured,
// every operation degrades to a zero value and the message pipeline
// keeps going.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/logger"
)

const (
	keySession = "session:"

	dialTimeout = 5 * time.Second
	opTimeout   = 3 * time.Second
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

var conn struct {
	mu     sync.RWMutex
	client *redis.Client
}

// log is resolved per call so a later logger.Init takes effect here too.
func log() *zap.SugaredLogger {
	return logger.Named("redis")
}

// active returns the connected client, or nil when snapshots are off.
func active() *redis.Client {
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	return conn.client
}

// Init opens the Redis connection. Returns true when connected; callers
// treat false as "run without snapshots".
func Init(cfg Config) bool {
	if cfg.URL == "" {
		return false
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log().Warnf("invalid url: %v", err)
		return false
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.MaxRetries = 3

	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		log().Warnf("connection failed: %v", err)
		c.Close()
		return false
	}

	conn.mu.Lock()
	conn.client = c
	conn.mu.Unlock()
	return true
}

// Close shuts the connection down. Safe to call when never connected.
func Close() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.client != nil {
		conn.client.Close()
		conn.client = nil
	}
}

// IsAvailable reports whether snapshots are being written.
func IsAvailable() bool {
	return active() != nil
}

// SessionKey returns the Redis key holding a session's latest context.
func SessionKey(sessionKey string) string {
	return keySession + sessionKey
}

// SetJSON stores a JSON-serialized value with a TTL. Returns false when
// Redis is unavailable or the write fails.
func SetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	c := active()
	if c == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		log().Warnf("marshal %s: %v", key, err)
		return false
	}
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		log().Warnf("set %s: %v", key, err)
		return false
	}
	return true
}

// GetJSON reads a JSON value into out. Returns false when Redis is
// unavailable or the key is missing.
func GetJSON(ctx context.Context, key string, out any) bool {
	c := active()
	if c == nil {
		return false
	}
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log().Warnf("get %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log().Warnf("parse %s: %v", key, err)
		return false
	}
	return true
}
