// Package cache is the Redis layer: hot pattern lookups, action rate
// counters, cooldowns, the degraded-mode signal buffer, and the drain lease.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/models"
)

// ErrNotFound is returned on cache misses.
var ErrNotFound = errors.New("cache: not found")

// TTLs and key prefixes. The buffer TTL bounds how long signals survive a
// bus outage before they are dropped.
const (
	patternTTL = time.Hour
	bufferTTL  = 7 * 24 * time.Hour
	leaseTTL   = 30 * time.Second

	bufferKey = "signal_buffer:pending"
	leaseKey  = "signal_buffer:drain_lease"
)

// Client wraps the Redis connection with domain operations.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing connection. Used by tests.
func NewClientFromRedis(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// --- pattern cache ---

func patternKey(id string) string { return "pattern:" + id }

// SetPattern caches a pattern for fast re-detection lookups.
func (c *Client) SetPattern(ctx context.Context, p *models.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	return c.rdb.Set(ctx, patternKey(p.PatternID), data, patternTTL).Err()
}

// GetPattern returns a cached pattern, or ErrNotFound on a miss.
func (c *Client) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	data, err := c.rdb.Get(ctx, patternKey(patternID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal cached pattern: %w", err)
	}
	return &p, nil
}

// --- rate limiting ---

// rateLimitScript atomically increments the window counter and rejects when
// the limit is already reached, so concurrent executors cannot both pass.
var rateLimitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// rateWindow is the action rate-limit window.
const rateWindow = time.Minute

func rateKey(merchantID string, actionType models.ActionType) string {
	window := time.Now().UTC().Format("200601021504") // minute bucket
	return fmt.Sprintf("rate:%s:%s:%s", merchantID, actionType, window)
}

// AllowAction reserves one slot in the merchant's per-window action budget.
// Returns false when the budget is exhausted; no slot is consumed then.
func (c *Client) AllowAction(ctx context.Context, merchantID string, actionType models.ActionType, limit int) (bool, error) {
	n, err := rateLimitScript.Run(ctx, c.rdb, []string{rateKey(merchantID, actionType)}, limit, int(rateWindow.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return n > 0, nil
}

// ActionCount returns the number of actions the merchant has executed in the
// current window for the given action type.
func (c *Client) ActionCount(ctx context.Context, merchantID string, actionType models.ActionType) (int, error) {
	key := rateKey(merchantID, actionType)
	n, err := c.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// --- cooldowns ---

func cooldownKey(merchantID string, actionType models.ActionType) string {
	return fmt.Sprintf("cooldown:%s:%s", merchantID, actionType)
}

// SetCooldown starts a cooldown for the merchant/action pair.
func (c *Client) SetCooldown(ctx context.Context, merchantID string, actionType models.ActionType, d time.Duration) error {
	return c.rdb.Set(ctx, cooldownKey(merchantID, actionType), "1", d).Err()
}

// InCooldown reports whether the pair is still cooling down.
func (c *Client) InCooldown(ctx context.Context, merchantID string, actionType models.ActionType) (bool, error) {
	n, err := c.rdb.Exists(ctx, cooldownKey(merchantID, actionType)).Result()
	return n > 0, err
}

// --- degraded-mode signal buffer ---

// BufferSignal appends a signal to the pending buffer, used when the event
// bus is unavailable. Order is preserved (FIFO).
func (c *Client) BufferSignal(ctx context.Context, sig *models.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal buffered signal: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, bufferKey, data)
	pipe.Expire(ctx, bufferKey, bufferTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// BufferedCount returns the number of signals awaiting drain.
func (c *Client) BufferedCount(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, bufferKey).Result()
}

// PopBuffered removes and returns up to n signals from the head of the
// buffer, oldest first.
func (c *Client) PopBuffered(ctx context.Context, n int) ([]*models.Signal, error) {
	raw, err := c.rdb.LPopCount(ctx, bufferKey, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*models.Signal, 0, len(raw))
	for _, item := range raw {
		var sig models.Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			return out, fmt.Errorf("unmarshal buffered signal: %w", err)
		}
		out = append(out, &sig)
	}
	return out, nil
}

// RequeueSignal pushes a signal back to the head of the buffer, preserving
// its original position when a drain attempt fails mid-batch.
func (c *Client) RequeueSignal(ctx context.Context, sig *models.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return c.rdb.LPush(ctx, bufferKey, data).Err()
}

// --- drain lease ---

// AcquireDrainLease claims the buffer-drain lease so at most one process
// drains at a time. Returns false when another holder exists.
func (c *Client) AcquireDrainLease(ctx context.Context, holder string) (bool, error) {
	return c.rdb.SetNX(ctx, leaseKey, holder, leaseTTL).Result()
}

// ReleaseDrainLease releases the lease if this holder still owns it.
func (c *Client) ReleaseDrainLease(ctx context.Context, holder string) error {
	script := redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
	return script.Run(ctx, c.rdb, []string{leaseKey}, holder).Err()
}
