package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"sqlagent-backend/internal/sqltext"
)

const tablesCacheKey = "tables"

// CachedGateway memoizes catalog lookups of another Source for a fixed TTL.
// Query is never cached.
type CachedGateway struct {
	next  Source
	cache *ttlcache.Cache[string, sqltext.Tabular]
}

// NewCachedGateway wraps next. Call Close to stop the expiry loop.
func NewCachedGateway(next Source, ttl time.Duration) *CachedGateway {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, sqltext.Tabular](ttl),
		ttlcache.WithDisableTouchOnHit[string, sqltext.Tabular](),
	)
	go cache.Start()

	return &CachedGateway{
		next:  next,
		cache: cache,
	}
}

func (c *CachedGateway) ListTables(ctx context.Context) (sqltext.Tabular, error) {
	return c.load(tablesCacheKey, func() (sqltext.Tabular, error) {
		return c.next.ListTables(ctx)
	})
}

func (c *CachedGateway) GetColumns(ctx context.Context, table string) (sqltext.Tabular, error) {
	return c.load("columns:"+table, func() (sqltext.Tabular, error) {
		return c.next.GetColumns(ctx, table)
	})
}

func (c *CachedGateway) Sample(ctx context.Context, table string, limit int) (sqltext.Tabular, error) {
	return c.load(fmt.Sprintf("sample:%d:%s", limit, table), func() (sqltext.Tabular, error) {
		return c.next.Sample(ctx, table, limit)
	})
}

func (c *CachedGateway) Query(ctx context.Context, stmt string) (sqltext.Tabular, error) {
	return c.next.Query(ctx, stmt)
}

// Invalidate drops every cached entry.
func (c *CachedGateway) Invalidate() {
	c.cache.DeleteAll()
}

// Close stops the background expiry loop.
func (c *CachedGateway) Close() {
	c.cache.Stop()
}

func (c *CachedGateway) load(key string, fetch func() (sqltext.Tabular, error)) (sqltext.Tabular, error) {
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	t, err := fetch()
	if err != nil {
		return sqltext.Tabular{}, err
	}
	c.cache.Set(key, t, ttlcache.DefaultTTL)
	return t, nil
}
