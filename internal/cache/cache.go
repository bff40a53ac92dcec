/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for the public read
// endpoints. Room and stream listings are served from here when possible so
// directory polling never touches the metadata database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values. Listings track live state, so they stay short: a
// stale entry ages out within seconds of a room or stream change even if
// invalidation is missed.
const (
	DefaultRoomListTTL = 30 * time.Second
	DefaultStreamTTL   = 10 * time.Second
)

// Key prefixes for Redis cache
const (
	KeyRoomList   = "duocast:cache:rooms"
	KeyStreamList = "duocast:cache:streams"
	KeyStream     = "duocast:cache:stream:" // + room_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	RoomListTTL time.Duration
	StreamTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		RoomListTTL:    DefaultRoomListTTL,
		StreamTTL:      DefaultStreamTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Room caching methods

// CachedRoom represents a cached room record.
type CachedRoom struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	HLSUrl    string    `json:"hls_url"`
	CreatedAt time.Time `json:"created_at"`
}

// GetRoomList retrieves the cached list of rooms.
func (c *Cache) GetRoomList(ctx context.Context) ([]CachedRoom, bool) {
	var rooms []CachedRoom
	found, err := c.get(ctx, KeyRoomList, &rooms)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(rooms)).Msg("room list cache hit")
	return rooms, true
}

// SetRoomList caches the list of rooms.
func (c *Cache) SetRoomList(ctx context.Context, rooms []CachedRoom) error {
	c.logger.Debug().Int("count", len(rooms)).Msg("caching room list")
	return c.set(ctx, KeyRoomList, rooms, c.config.RoomListTTL)
}

// InvalidateRoomList removes the room list from cache.
func (c *Cache) InvalidateRoomList(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating room list cache")
	return c.delete(ctx, KeyRoomList)
}

// Stream caching methods

// CachedStream represents one room currently serving HLS.
type CachedStream struct {
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	PlaylistURL string    `json:"playlist_url"`
	StartedAt   time.Time `json:"started_at"`
}

// GetStream retrieves the cached stream for a room.
func (c *Cache) GetStream(ctx context.Context, roomID string) (*CachedStream, bool) {
	var stream CachedStream
	found, err := c.get(ctx, KeyStream+roomID, &stream)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("room_id", roomID).Msg("stream cache hit")
	return &stream, true
}

// SetStream caches one room's live stream.
func (c *Cache) SetStream(ctx context.Context, stream *CachedStream) error {
	c.logger.Debug().Str("room_id", stream.RoomID).Msg("caching stream")
	return c.set(ctx, KeyStream+stream.RoomID, stream, c.config.StreamTTL)
}

// InvalidateStream removes a room's stream from cache, together with the
// stream list that embedded it.
func (c *Cache) InvalidateStream(ctx context.Context, roomID string) error {
	c.logger.Debug().Str("room_id", roomID).Msg("invalidating stream cache")
	if err := c.delete(ctx, KeyStream+roomID); err != nil {
		return err
	}
	return c.delete(ctx, KeyStreamList)
}

// GetStreamList retrieves the cached list of live streams.
func (c *Cache) GetStreamList(ctx context.Context) ([]CachedStream, bool) {
	var streams []CachedStream
	found, err := c.get(ctx, KeyStreamList, &streams)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(streams)).Msg("stream list cache hit")
	return streams, true
}

// SetStreamList caches the list of live streams.
func (c *Cache) SetStreamList(ctx context.Context, streams []CachedStream) error {
	c.logger.Debug().Int("count", len(streams)).Msg("caching stream list")
	return c.set(ctx, KeyStreamList, streams, c.config.StreamTTL)
}

// InvalidateStreamList removes the stream list from cache.
func (c *Cache) InvalidateStreamList(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating stream list cache")
	return c.delete(ctx, KeyStreamList)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "duocast:cache:*")
}
