package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// issueSessionScript swaps the principal's token id and drops the superseded record.
// KEYS[1] = principal key
// KEYS[2] = new token key
// ARGV[1] = token key prefix
// ARGV[2] = new token id
// ARGV[3] = encoded record
// ARGV[4] = ttl in milliseconds
//
// Returns 1 when a previous token was replaced, 0 otherwise.
const issueSessionScript = `
local old = redis.call("GET", KEYS[1])
local replaced = 0
if old and old ~= ARGV[2] then
  redis.call("DEL", ARGV[1] .. old)
  replaced = 1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[4])
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[4])
return replaced
`

// revokeSessionScript removes the principal key and the record it points at.
// KEYS[1] = principal key
// ARGV[1] = token key prefix
const revokeSessionScript = `
local old = redis.call("GET", KEYS[1])
if not old then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("DEL", ARGV[1] .. old)
return 1
`

var (
	issueSessionLua  = redis.NewScript(issueSessionScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
)

// RedisStore keeps two keys per session:
//
//	<prefix>:sp:<principal> -> token id
//	<prefix>:st:<token id>  -> encoded [Record]
//
// Both carry the session TTL. The scripts touch a token key derived from the stored
// id, so all keys of a deployment must live on one Redis node (no cluster slots).
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a [RedisStore]. prefix defaults to "tg".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tg"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock replaces the time source used to derive key TTLs from ExpiresAt.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RedisStore) principalKey(principal string) string {
	return s.prefix + ":sp:" + principal
}

func (s *RedisStore) tokenPrefix() string {
	return s.prefix + ":st:"
}

func (s *RedisStore) tokenKey(tokenID string) string {
	return s.tokenPrefix() + tokenID
}

func (s *RedisStore) Issue(ctx context.Context, rec Record) error {
	ttl := rec.TTL(s.now())
	if ttl < time.Millisecond {
		return errors.New("session record already expired")
	}
	data, err := Encode(&rec)
	if err != nil {
		return err
	}

	err = issueSessionLua.Run(ctx, s.redis,
		[]string{s.principalKey(rec.Principal), s.tokenKey(rec.TokenID)},
		s.tokenPrefix(),
		rec.TokenID,
		data,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Revoke(ctx context.Context, principal string) (bool, error) {
	n, err := revokeSessionLua.Run(ctx, s.redis,
		[]string{s.principalKey(principal)},
		s.tokenPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Lookup(ctx context.Context, tokenID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		// Unreadable records are dropped so they cannot shadow a later issue.
		_ = s.redis.Del(ctx, s.tokenKey(tokenID)).Err()
		return nil, ErrTokenNotFound
	}
	if rec.TokenID != tokenID {
		return nil, ErrTokenNotFound
	}
	return rec, nil
}

func (s *RedisStore) Active(ctx context.Context, principal string) (string, error) {
	id, err := s.redis.Get(ctx, s.principalKey(principal)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return id, nil
}
