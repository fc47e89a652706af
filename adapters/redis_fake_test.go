package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeRedis records every server-side operation in order and backs the key
// commands with an in-memory map, so tests can assert both effects and
// sequencing without a live server.
type fakeRedis struct {
	ops    []string
	values map[string]string
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (r *fakeRedis) log(format string, args ...interface{}) {
	r.ops = append(r.ops, fmt.Sprintf(format, args...))
}

func (r *fakeRedis) matching(pattern string) []string {
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range r.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (r *fakeRedis) Do(_ context.Context, args ...interface{}) *redis.Cmd {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	r.log("DO %s", strings.Join(parts, " "))
	return redis.NewCmdResult("OK", nil)
}

func (r *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	r.log("SCAN %s", match)
	return redis.NewScanCmdResult(r.matching(match), 0, nil)
}

func (r *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	r.log("GET %s", key)
	value, ok := r.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	r.log("SET %s", key)
	r.values[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	r.log("DEL %s", strings.Join(keys, " "))
	var n int64
	for _, key := range keys {
		if _, ok := r.values[key]; ok {
			delete(r.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (r *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := r.values[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (r *fakeRedis) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(r.matching(pattern), nil)
}

func (r *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (r *fakeRedis) Close() error {
	r.closed = true
	return nil
}
