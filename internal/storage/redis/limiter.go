package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/vidauth/internal/util"
)

const (
	loginAttemptsKeyPrefix = "login:attempts:"
	loginBlockedKeyPrefix  = "login:blocked:"
)

// LoginLimiter counts failed logins per login name. Limit failures inside
// Interval block the name for BlockTime.
type LoginLimiter struct {
	client *redis.Client
	cfg    util.RateLimiterConfig
}

func NewLoginLimiter(client *redis.Client, cfg *util.RateLimiterConfig) *LoginLimiter {
	return &LoginLimiter{client: client, cfg: *cfg}
}

func (l *LoginLimiter) Blocked(ctx context.Context, login string) (bool, error) {
	n, err := l.client.Exists(ctx, loginBlockedKeyPrefix+login).Result()
	if err != nil {
		return false, fmt.Errorf("check login block: %w", err)
	}
	return n > 0, nil
}

func (l *LoginLimiter) RegisterFailure(ctx context.Context, login string) error {
	attemptsKey := loginAttemptsKeyPrefix + login

	// SETNX starts the window with its TTL; the counter never exists without one
	count := l.client.TxPipeline()
	count.SetNX(ctx, attemptsKey, 0, l.cfg.Interval)
	incr := count.Incr(ctx, attemptsKey)
	if _, err := count.Exec(ctx); err != nil {
		return fmt.Errorf("count login failure: %w", err)
	}
	attempts := incr.Val()
	if attempts < int64(l.cfg.Limit) {
		return nil
	}

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, loginBlockedKeyPrefix+login, attempts, l.cfg.BlockTime)
	pipe.Del(ctx, attemptsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("block login: %w", err)
	}
	return nil
}

func (l *LoginLimiter) Reset(ctx context.Context, login string) error {
	if err := l.client.Del(ctx, loginAttemptsKeyPrefix+login).Err(); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}
