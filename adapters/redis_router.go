package adapters

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
)

// RedisTenants routes tenant traffic to prefix-scoped redis clients. Same
// ownership rules as the postgres router: clients are created lazily, at
// most one per tenant, closed only through End.
type RedisTenants struct {
	strategy string
	creds    f.CredentialManager
	open     func(f.ConnectionDescriptor) redisConn

	mu      sync.Mutex
	clients map[string]*TenantCache
}

func newRedisTenants(strategy string, creds f.CredentialManager) *RedisTenants {
	return &RedisTenants{
		strategy: strategy,
		creds:    creds,
		open:     NewRedisClient,
		clients:  make(map[string]*TenantCache),
	}
}

func (t *RedisTenants) GetClientFor(ctx context.Context, tenantId string) (*TenantCache, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if client, ok := t.clients[tenantId]; ok {
		return client, nil
	}
	descriptor, err := t.creds.Get(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	client := &TenantCache{
		TenantId: tenantId,
		prefix:   descriptor.KeyPrefix,
		conn:     t.open(*descriptor),
	}
	t.clients[tenantId] = client
	metricPoolsOpened.WithLabelValues(t.strategy).Inc()
	log.Tenant(tenantId).Debugf("opened redis client with prefix %s", descriptor.KeyPrefix)
	return client, nil
}

func (t *RedisTenants) End(tenantIds ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(tenantIds) == 0 {
		for id := range t.clients {
			tenantIds = append(tenantIds, id)
		}
	}
	var lastErr error
	for _, id := range tenantIds {
		client, ok := t.clients[id]
		if !ok {
			continue
		}
		if err := client.conn.Close(); err != nil {
			log.Tenant(id).Warnf("failed to close redis client: %v", err)
			lastErr = err
		}
		delete(t.clients, id)
		metricPoolsClosed.WithLabelValues(t.strategy).Inc()
	}
	return lastErr
}

// ------------------------------------------------------------------------------------------------------------------
// TENANT CACHE
// ------------------------------------------------------------------------------------------------------------------

// TenantCache is a redis handle with the tenant's key prefix applied on
// every operation. Under ACL isolation the server enforces the same
// prefix; under prefix isolation the prefix is the whole story.
type TenantCache struct {
	TenantId string
	prefix   string
	conn     redisConn
}

func (c *TenantCache) Key(key string) string {
	return c.prefix + key
}

// Get returns the empty string for a missing key.
func (c *TenantCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.conn.Get(ctx, c.Key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (c *TenantCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.conn.Set(ctx, c.Key(key), value, ttl).Err()
}

func (c *TenantCache) Delete(ctx context.Context, keys ...string) (int64, error) {
	scoped := make([]string, len(keys))
	for i, key := range keys {
		scoped[i] = c.Key(key)
	}
	return c.conn.Del(ctx, scoped...).Result()
}

func (c *TenantCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.conn.Exists(ctx, c.Key(key)).Result()
	return n > 0, err
}

// Keys lists the tenant's keys matching pattern, with the prefix stripped.
func (c *TenantCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := c.conn.Scan(ctx, cursor, c.Key(pattern), 500).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			out = append(out, strings.TrimPrefix(key, c.prefix))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Field reads one field out of a JSON value without decoding the whole
// document. Missing key or missing field both come back as nil.
func (c *TenantCache) Field(ctx context.Context, key string, path string) (any, error) {
	value, err := c.Get(ctx, key)
	if err != nil || value == "" {
		return nil, err
	}
	return h.JsonField(value, path), nil
}

// Do passes a raw command through without key scoping. ACL enforcement
// still applies server-side; this is the sharp edge a caller reaches for
// deliberately.
func (c *TenantCache) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return c.conn.Do(ctx, args...).Result()
}
