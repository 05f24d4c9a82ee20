package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached reads expirations over 30 days as absolute unix times
const maxRelativeExpiration = 30 * 24 * time.Hour

// MemcacheClient adapts a memcached client to Client
type MemcacheClient struct {
	mc  *memcache.Client
	now func() time.Time
}

var _ Client = (*MemcacheClient)(nil)

// NewMemcacheClient wraps mc
func NewMemcacheClient(mc *memcache.Client) *MemcacheClient {
	return &MemcacheClient{mc: mc, now: time.Now}
}

// expiration converts ttl into memcached's expiration field
func (c *MemcacheClient) expiration(ttl time.Duration) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl > maxRelativeExpiration:
		return int32(c.now().Add(ttl).Unix())
	case ttl < time.Second:
		return 1
	default:
		return int32(ttl / time.Second)
	}
}

func (c *MemcacheClient) Get(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	item, err := c.mc.Get(key)
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return "", false, nil
	case err != nil:
		return "", false, err
	}

	if ttl > 0 {
		err := c.mc.Touch(key, c.expiration(ttl))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return "", false, err
		}
	}

	return string(item.Value), true, nil
}

func (c *MemcacheClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.mc.Set(&memcache.Item{
		Key:        key,
		Value:      []byte(value),
		Expiration: c.expiration(ttl),
	})
}

func (c *MemcacheClient) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := c.mc.Delete(key)
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}
