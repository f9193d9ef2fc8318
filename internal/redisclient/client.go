package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_idempotency.lua
var claimIdempotencyScript string

// Client wraps Redis for the idempotency cache and hot intent snapshots.
type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewClient creates a new Redis client with the Lua script loaded.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimIdempotencyScript),
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimIdempotency atomically claims an idempotency key, storing the given
// snapshot. When the key was already claimed, the previously stored snapshot
// is returned instead and claimed is false.
func (c *Client) ClaimIdempotency(ctx context.Context, key string, snapshot []byte, ttl time.Duration) (claimed bool, existing []byte, err error) {
	result, err := c.claimScript.Run(ctx, c.rdb,
		[]string{idempotencyKey(key)},
		string(snapshot), int(ttl.Seconds()),
	).Result()
	if err != nil {
		return false, nil, fmt.Errorf("claim idempotency script failed: %w", err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return false, nil, fmt.Errorf("unexpected script result type")
	}
	flag, _ := parts[0].(int64)
	value, _ := parts[1].(string)
	return flag == 1, []byte(value), nil
}

// UpdateIdempotencySnapshot replaces the stored snapshot for an already
// claimed key, keeping the remaining TTL.
func (c *Client) UpdateIdempotencySnapshot(ctx context.Context, key string, snapshot []byte) error {
	return c.rdb.Set(ctx, idempotencyKey(key), snapshot, redis.KeepTTL).Err()
}

// CacheIntent stores a hot intent snapshot.
func (c *Client) CacheIntent(ctx context.Context, intentID string, snapshot []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, "intent:"+intentID, snapshot, ttl).Err()
}

// GetCachedIntent returns a cached intent snapshot, or nil on a miss.
func (c *Client) GetCachedIntent(ctx context.Context, intentID string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, "intent:"+intentID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func idempotencyKey(key string) string {
	return "idempotency:intent:" + key
}
