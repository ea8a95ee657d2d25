package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one string key per code. Expiry is delegated to Redis key TTLs,
// so an expired code is simply absent.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	policy MatchPolicy
	now    func() time.Time
}

// NewRedisStore creates a [RedisStore]. Keys are "<prefix>:cap:<id>".
func NewRedisStore(redisClient redis.UniversalClient, prefix string, policy MatchPolicy) *RedisStore {
	if prefix == "" {
		prefix = "tg"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		policy: policy,
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

func (s *RedisStore) key(id string) string {
	return s.prefix + ":cap:" + id
}

func (s *RedisStore) Save(ctx context.Context, code Code) error {
	now := s.now()
	if err := validateCode(code, now); err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(code.ID), code.Value, code.ExpiresAt.Sub(now)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Validate(ctx context.Context, id, value string) (bool, error) {
	stored, err := s.redis.Get(ctx, s.key(id)).Result()
	return s.compare(stored, value, err)
}

func (s *RedisStore) Invalidate(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume reads and deletes the key with a single GETDEL, so exactly one caller
// observes the stored value.
func (s *RedisStore) Consume(ctx context.Context, id, value string) (bool, error) {
	stored, err := s.redis.GetDel(ctx, s.key(id)).Result()
	return s.compare(stored, value, err)
}

func (s *RedisStore) compare(stored, value string, err error) (bool, error) {
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.policy.matches(stored, value), nil
}
