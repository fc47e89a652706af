package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/h"
)

// redisConn is the slice of the go-redis client this layer touches; tests
// substitute a recorder.
type redisConn interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

func NewRedisClient(d f.ConnectionDescriptor) redisConn {
	return redis.NewClient(&redis.Options{
		Addr:     d.Addr(),
		Username: d.User,
		Password: d.Password,
	})
}

// RedisDescriptorFromURL splits a redis:// URL into descriptor fields.
func RedisDescriptorFromURL(raw string) (f.ConnectionDescriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return f.ConnectionDescriptor{}, fmt.Errorf("invalid redis url: %w", err)
	}
	if !h.Contains([]string{"redis", "rediss"}, u.Scheme) {
		return f.ConnectionDescriptor{}, fmt.Errorf("invalid redis url scheme: %s", u.Scheme)
	}
	port := 6379
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return f.ConnectionDescriptor{}, fmt.Errorf("invalid redis port: %w", err)
		}
	}
	password, _ := u.User.Password()
	return f.ConnectionDescriptor{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
	}, nil
}

// deleteKeysByPattern SCANs and deletes in batches; KEYS would block the
// server on large keyspaces.
func deleteKeysByPattern(ctx context.Context, client redisConn, pattern string) (int64, error) {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// buildACLSetUserArgs shapes the ACL SETUSER command for a user restricted
// to one key pattern. The dangerous-command category (FLUSHALL, KEYS,
// CONFIG, ...) is denied unless explicitly enabled.
func buildACLSetUserArgs(username string, password string, keyPattern string, allowDangerous bool) []interface{} {
	args := []interface{}{
		"ACL", "SETUSER", username,
		"on",
		">" + password,
		"~" + keyPattern,
		"+@all",
	}
	if !allowDangerous {
		args = append(args, "-@dangerous")
	}
	return args
}
