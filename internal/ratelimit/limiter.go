// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. The relay uses it to throttle WebSocket upgrades per client
// address so a misbehaving client cannot exhaust connection slots.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleConnect allows 20 WebSocket upgrades per minute per client address.
var RuleConnect = Rule{Key: "tripchat:rl:conn:", Limit: 20, Window: 1 * time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	rule   Rule
}

// NewLimiter creates a Limiter backed by the given Redis client that applies
// rule to every identifier.
func NewLimiter(client *redis.Client, rule Rule) *Limiter {
	return &Limiter{client: client, rule: rule}
}

// Allow checks whether the given identifier is within the limit. It
// increments the counter in Redis and sets the expiry on first access.
//
// On Redis errors the method fails open (returns true) so that a Redis
// outage does not block legitimate traffic; the error is still returned.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Str("module", "ratelimit").Str("key", key).Err(err).Msg("redis INCR failed, failing open")
		return true, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			log.Warn().Str("module", "ratelimit").Str("key", key).Err(err).Msg("redis EXPIRE failed, failing open")
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	return int(count) <= l.rule.Limit, nil
}
