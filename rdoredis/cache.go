// Package rdoredis caches table introspection results in Redis
package rdoredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lemmego/rdo"
)

// DefaultTTL is the lifetime of a cached table description.
const DefaultTTL = 10 * time.Minute

// =====================================
// Schema Cache
// =====================================

// Cache is an rdo.Adapter that answers Columns and PrimaryKey from Redis and
// delegates everything else to the wrapped adapter. Mappers running in
// separate processes then share one introspection per table.
type Cache struct {
	rdo.Adapter
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the lifetime of cached entries. Zero keeps them until
// invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix, "rdo" by default.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithLogger sets the logger used to report Redis failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New wraps adapter with a Redis-backed schema cache.
func New(adapter rdo.Adapter, client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		Adapter: adapter,
		client:  client,
		prefix:  "rdo",
		ttl:     DefaultTTL,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type entry struct {
	Columns    []rdo.Column `json:"columns"`
	PrimaryKey string       `json:"primary_key"`
}

func (c *Cache) key(table string) string {
	return fmt.Sprintf("%s:schema:%s", c.prefix, table)
}

// Columns returns the cached columns of table, introspecting on a miss.
func (c *Cache) Columns(ctx context.Context, table string) ([]rdo.Column, error) {
	e, err := c.load(ctx, table)
	if err != nil {
		return nil, err
	}
	return e.Columns, nil
}

// PrimaryKey returns the cached primary key of table, introspecting on a miss.
func (c *Cache) PrimaryKey(ctx context.Context, table string) (string, error) {
	e, err := c.load(ctx, table)
	if err != nil {
		return "", err
	}
	return e.PrimaryKey, nil
}

func (c *Cache) load(ctx context.Context, table string) (*entry, error) {
	data, err := c.client.Get(ctx, c.key(table)).Bytes()
	switch {
	case err == nil:
		var e entry
		if err := json.Unmarshal(data, &e); err == nil {
			return &e, nil
		}
		c.logger.Warn("discarding corrupt schema cache entry", "table", table)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("schema cache unavailable", "table", table, "error", err)
	}

	columns, err := c.Adapter.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	e := &entry{Columns: columns}
	if len(columns) > 0 {
		pk, err := c.Adapter.PrimaryKey(ctx, table)
		if err != nil {
			return nil, err
		}
		e.PrimaryKey = pk
	} else {
		// Absent tables are not cached so they are seen once created.
		return e, nil
	}

	data, err = json.Marshal(e)
	if err != nil {
		return nil, rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "failed to serialize schema", err)
	}
	if err := c.client.Set(ctx, c.key(table), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to store schema cache entry", "table", table, "error", err)
	}
	return e, nil
}

// Invalidate drops the cached descriptions of tables. With no tables every
// entry under the prefix is dropped.
func (c *Cache) Invalidate(ctx context.Context, tables ...string) error {
	if len(tables) > 0 {
		keys := make([]string, 0, len(tables))
		for _, table := range tables {
			keys = append(keys, c.key(table))
		}
		return convertRedisError(c.client.Del(ctx, keys...).Err())
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.key("*"), 100).Result()
		if err != nil {
			return convertRedisError(err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return convertRedisError(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// =====================================
// Client Construction
// =====================================

// NewClient builds a Redis client from a configuration. Database holds the
// Redis database number and the "redis" options section may set
// dial_timeout, read_timeout and write_timeout.
func NewClient(ctx context.Context, config rdo.Config) (*redis.Client, error) {
	port := config.Port
	if port == 0 {
		port = 6379
	}
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, port),
		Username: config.Username,
		Password: config.Password,
	}
	if config.ConnectionURL != "" {
		parsed, err := redis.ParseURL(config.ConnectionURL)
		if err != nil {
			return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConfiguration, "invalid redis url", err)
		}
		opts = parsed
	}

	if config.Database != "" {
		db, err := strconv.Atoi(config.Database)
		if err != nil {
			return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConfiguration, "redis database must be a number", err)
		}
		opts.DB = db
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		opts.PoolSize = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		opts.MinIdleConns = config.MaxIdleConns
	}
	if config.ConnMaxLifetime > 0 {
		opts.MaxConnAge = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		opts.IdleTimeout = config.ConnMaxIdleTime
	}

	if d, ok := config.OptionDuration("redis", "dial_timeout"); ok {
		opts.DialTimeout = d
	}
	if d, ok := config.OptionDuration("redis", "read_timeout"); ok {
		opts.ReadTimeout = d
	}
	if d, ok := config.OptionDuration("redis", "write_timeout"); ok {
		opts.WriteTimeout = d
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "failed to connect to Redis", err)
	}
	return client, nil
}

// =====================================
// Error Conversion
// =====================================

// convertRedisError converts Redis errors to rdo errors
func convertRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return rdo.NewError(rdo.ErrorTypeNotFound, "key not found")
	}
	return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "Redis operation failed", err)
}
