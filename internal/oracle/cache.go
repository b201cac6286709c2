package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/axellelanca/linkcloak/internal/models"
)

// Cache stores successful lookups. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, ip string) (models.Reputation, bool, error)
	Set(ctx context.Context, ip string, rep models.Reputation, ttl time.Duration) error
}

// DefaultUpstreamTimeout bounds the shared upstream call of a collapsed lookup.
const DefaultUpstreamTimeout = 5 * time.Second

// Cached puts a Cache in front of an Oracle and collapses concurrent lookups
// for the same address into one upstream call. Failed lookups are not cached.
//
// The shared call runs detached from any single caller, bounded by
// UpstreamTimeout; each caller still gives up at its own deadline.
type Cached struct {
	next   Oracle
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger

	UpstreamTimeout time.Duration
}

func NewCached(next Oracle, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger, UpstreamTimeout: DefaultUpstreamTimeout}
}

func (c *Cached) Lookup(ctx context.Context, ip string) (models.Reputation, error) {
	if c.cache != nil {
		rep, ok, err := c.cache.Get(ctx, ip)
		if err != nil {
			c.logger.Warn("reputation cache read failed", zap.String("ip", ip), zap.Error(err))
		} else if ok {
			return rep, nil
		}
	}

	ch := c.group.DoChan(ip, func() (interface{}, error) {
		timeout := c.UpstreamTimeout
		if timeout <= 0 {
			timeout = DefaultUpstreamTimeout
		}
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		rep, err := c.next.Lookup(shared, ip)
		if err != nil {
			return models.Reputation{}, err
		}
		if c.cache != nil {
			if err := c.cache.Set(shared, ip, rep, c.ttl); err != nil {
				c.logger.Warn("reputation cache write failed", zap.String("ip", ip), zap.Error(err))
			}
		}
		return rep, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Reputation{}, res.Err
		}
		return res.Val.(models.Reputation), nil
	case <-ctx.Done():
		return models.Reputation{}, fmt.Errorf("lookup %s: %w", ip, ctx.Err())
	}
}

// RedisCache keeps reputations under oracle:ip:<ip> as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, ip string) (models.Reputation, bool, error) {
	raw, err := r.client.Get(ctx, "oracle:ip:"+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Reputation{}, false, nil
		}
		return models.Reputation{}, false, err
	}
	var rep models.Reputation
	if err := json.Unmarshal(raw, &rep); err != nil {
		return models.Reputation{}, false, err
	}
	return rep, true, nil
}

func (r *RedisCache) Set(ctx context.Context, ip string, rep models.Reputation, ttl time.Duration) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "oracle:ip:"+ip, raw, ttl).Err()
}
