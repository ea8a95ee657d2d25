package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	Prefix                string
}

// countFailure bumps every counter in KEYS and starts the window on the first hit.
// It returns the highest count seen.
var countFailure = redis.NewScript(`
local highest = 0
for _, key in ipairs(KEYS) do
  local n = redis.call("INCR", key)
  if n == 1 then
    redis.call("PEXPIRE", key, ARGV[1])
  end
  if n > highest then
    highest = n
  end
end
return highest
`)

// Limiter keeps fixed-window failure counters per identifier and, optionally,
// per client IP. A login is refused once any counter reaches the budget.
type Limiter struct {
	rdb    redis.UniversalClient
	budget int64
	window time.Duration
	perIP  bool
	prefix string
}

// New creates a [Limiter] backed by rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tg"
	}
	return &Limiter{
		rdb:    rdb,
		budget: int64(cfg.MaxLoginAttempts),
		window: cfg.LoginCooldownDuration,
		perIP:  cfg.EnableIPThrottle,
		prefix: prefix + ":rl:",
	}
}

// keys lists the counters an attempt is charged to. Identifiers are case-folded
// so "Alice" and "alice" share a budget.
func (l *Limiter) keys(identifier, ip string) []string {
	keys := []string{l.prefix + "id:" + strings.ToLower(identifier)}
	if l.perIP && ip != "" {
		keys = append(keys, l.prefix+"ip:"+ip)
	}
	return keys
}

// CheckLogin returns [ErrRateLimited] when the identifier or IP is out of budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	vals, err := l.rdb.MGet(ctx, l.keys(identifier, ip)...).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, v := range vals {
		if n := parseCount(v); n >= l.budget {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin charges one failed attempt. It returns [ErrRateLimited] when the
// attempt pushed a counter past the budget.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	highest, err := countFailure.Run(ctx, l.rdb, l.keys(identifier, ip), l.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if highest > l.budget {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	if err := l.rdb.Del(ctx, l.keys(identifier, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetLoginAttempts returns the failures recorded for identifier in the current
// window. Unknown identifiers report zero.
func (l *Limiter) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	v, err := l.rdb.Get(ctx, l.keys(identifier, "")[0]).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(parseCount(v)), nil
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
