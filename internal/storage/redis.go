package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis key prefix for cached documents
const cacheKeyPrefix = "vcon:doc:"

// NewRedisClient parses url, connects and pings. An empty url returns a
// nil client and no error: the cache is optional.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// cached is a read-through document cache in front of another Store.
// Redis failures never fail a request: they are logged and the call goes
// to the underlying store.
type cached struct {
	Store
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewCached wraps store with a redis cache for GetVcon. Writes to a
// document drop its cache entry.
func NewCached(store Store, client *redis.Client, ttl time.Duration) Store {
	return &cached{Store: store, client: client, ttl: ttl, metrics: metrics.NewMetrics()}
}

func cacheKey(uuid string) string { return cacheKeyPrefix + uuid }

func (c *cached) GetVcon(ctx context.Context, uuid string) (*model.VconRecord, error) {
	raw, err := c.client.Get(ctx, cacheKey(uuid)).Bytes()
	switch {
	case err == nil:
		var rec model.VconRecord
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			c.metrics.CacheLookupTotal.WithLabelValues("hit").Inc()
			return &rec, nil
		}
		c.metrics.CacheLookupTotal.WithLabelValues("error").Inc()
		c.forget(ctx, uuid)
	case errors.Is(err, redis.Nil):
		c.metrics.CacheLookupTotal.WithLabelValues("miss").Inc()
	default:
		c.metrics.CacheLookupTotal.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "document cache unavailable", "uuid", uuid, "error", err)
	}

	rec, err := c.Store.GetVcon(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(rec); err == nil {
		if err := c.client.Set(ctx, cacheKey(uuid), b, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "document cache write failed", "uuid", uuid, "error", err)
		}
	}
	return rec, nil
}

func (c *cached) CreateVcon(ctx context.Context, rec model.VconRecord) error {
	if err := c.Store.CreateVcon(ctx, rec); err != nil {
		return err
	}
	c.forget(ctx, rec.UUID)
	return nil
}

// UpdateVcon also drops the cached copy on ErrStale so the caller's next
// read sees the winning revision.
func (c *cached) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	err := c.Store.UpdateVcon(ctx, rec)
	if err == nil || errors.Is(err, ErrStale) {
		c.forget(ctx, rec.UUID)
	}
	return err
}

func (c *cached) forget(ctx context.Context, uuid string) {
	if err := c.client.Del(ctx, cacheKey(uuid)).Err(); err != nil {
		slog.WarnContext(ctx, "document cache invalidation failed", "uuid", uuid, "error", err)
	}
}

// Close closes the redis client and the wrapped store when it has a Close method.
func (c *cached) Close() {
	if err := c.client.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
	if closer, ok := c.Store.(interface{ Close() }); ok {
		closer.Close()
	}
}
