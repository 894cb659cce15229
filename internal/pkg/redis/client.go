package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/pkg/config"
)

const (
	slotKeyPrefix    = "chemviz:upload_slots:"
	revokedKeyPrefix = "chemviz:revoked:"
	slotTTLSeconds   = 600
)

// Lua script: atomically check and increment counter
var acquireScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	local max_concurrency = tonumber(ARGV[1])
	if current < max_concurrency then
		redis.call('INCR', KEYS[1])
		redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
		return 1
	else
		return 0
	end
`)

// Client wraps go-redis with the upload slot and token revocation helpers
type Client struct {
	rdb *redis.Client
	log *zap.Logger
}

// New connects to Redis and pings it
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.GetRedisAddr(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 3 * time.Second,
	})

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.GetRedisAddr(), err)
	}

	log = log.With(zap.String("component", "redis"))
	log.Info("Redis connected successfully", zap.String("addr", cfg.GetRedisAddr()))

	return &Client{rdb: rdb, log: log}, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client, log *zap.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func slotKey(userID int) string {
	return fmt.Sprintf("%s%d", slotKeyPrefix, userID)
}

// AcquireSlot takes one of the user's upload slots. It reports false when
// all maxConcurrency slots are in use.
func (c *Client) AcquireSlot(ctx context.Context, userID, maxConcurrency int) (bool, error) {
	result, err := acquireScript.Run(ctx, c.rdb, []string{slotKey(userID)}, maxConcurrency, slotTTLSeconds).Result()
	if err != nil {
		return false, err
	}

	acquired, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type %T", result)
	}

	return acquired == 1, nil
}

// ReleaseSlot releases a concurrency slot
func (c *Client) ReleaseSlot(ctx context.Context, userID int) error {
	key := slotKey(userID)

	newCount, err := c.rdb.Decr(ctx, key).Result()
	if err != nil {
		return err
	}

	// If count becomes 0 or negative, delete the key
	if newCount <= 0 {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			c.log.Warn("Failed to clear upload slot key", zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

// RevokeToken marks a token ID as revoked until ttl passes
func (c *Client) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err()
}

// IsRevoked checks whether a token ID has been revoked
func (c *Client) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := c.rdb.Get(ctx, revokedKeyPrefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
