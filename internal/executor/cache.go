package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/doorap/dori/internal/tools"
)

const (
	cacheKeyPrefix  = "dori:tool:"
	sentinelPrefix  = "s:"
	dataPrefix      = "d:"
	DefaultCacheTTL = time.Minute

	// sharedExecTimeout bounds an execution that waiters share.
	sharedExecTimeout = 30 * time.Second
)

// Cached is a read-through Redis cache in front of a Runner. Identical
// concurrent calls share one execution. Redis failures are logged and the
// inner runner is used directly.
type Cached struct {
	inner   Runner
	rdb     redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

func NewCached(inner Runner, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, rdb: rdb, ttl: ttl, timeout: sharedExecTimeout, logger: logger}
}

func (c *Cached) Execute(ctx context.Context, call tools.Call) (Result, error) {
	key, err := cacheKey(call)
	if err != nil {
		return c.inner.Execute(ctx, call)
	}

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if res, ok := decodeCached(call.Name, raw); ok {
			return res, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("tool cache read failed", "key", key, "err", err)
	}

	// The shared execution outlives any one caller; each caller still
	// stops waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		res, err := c.inner.Execute(sctx, call)
		if err != nil {
			return Result{}, err
		}
		if enc, err := encodeCached(res); err == nil {
			if err := c.rdb.Set(sctx, key, enc, c.ttl).Err(); err != nil {
				c.logger.Warn("tool cache write failed", "key", key, "err", err)
			}
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// cacheKey relies on encoding/json sorting map keys.
func cacheKey(call tools.Call) (string, error) {
	args, err := json.Marshal(call.Args)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	return cacheKeyPrefix + call.Name + ":" + string(args), nil
}

func encodeCached(res Result) (string, error) {
	if res.IsSentinel() {
		return sentinelPrefix + res.Sentinel, nil
	}
	text, err := res.Render()
	if err != nil {
		return "", err
	}
	return dataPrefix + text, nil
}

func decodeCached(tool, raw string) (Result, bool) {
	switch {
	case strings.HasPrefix(raw, sentinelPrefix):
		return sentinel(tool, strings.TrimPrefix(raw, sentinelPrefix)), true
	case strings.HasPrefix(raw, dataPrefix):
		return Result{Tool: tool, Data: json.RawMessage(strings.TrimPrefix(raw, dataPrefix))}, true
	}
	return Result{}, false
}
