package lockbridge

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// deleteIfValueScript deletes KEYS[1] only if it still holds ARGV[1].
var deleteIfValueScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// incrementBelowScript increments KEYS[1] when the result stays <= ARGV[1]
// and refreshes its ttl (ARGV[2], seconds).  Returns {value, applied}.
var incrementBelowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current + 1 > max then
    return {current, 0}
end
local next = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return {next, 1}
`)

// decrementFloorScript decrements KEYS[1] without going below zero and
// refreshes its ttl (ARGV[1], seconds).
var decrementFloorScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
    redis.call('SET', KEYS[1], 0, 'EX', tonumber(ARGV[1]))
    return 0
end
local next = redis.call('DECR', KEYS[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
return next
`)

// RedisStore implements Store on a go-redis client.  Conditional
// operations run as Lua scripts so each is one atomic round trip; scripts
// go out by SHA and are loaded on the first NOSCRIPT reply.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore wraps a redis client (or any Cmdable, e.g. a mock).
func NewRedisStore(rdb redis.Cmdable) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	res, err := deleteIfValueScript.Run(ctx, s.rdb, []string{key}, value).Result()
	if err != nil {
		return false, err
	}
	return asInt64(res) > 0, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	return s.rdb.Decr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, key, ttl).Result()
}

func (s *RedisStore) IncrementBelow(ctx context.Context, key string, max int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrementBelowScript.Run(ctx, s.rdb, []string{key}, max, ttlSeconds(ttl)).Result()
	if err != nil {
		return 0, false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, false, errors.New("lockbridge: unexpected increment script result")
	}
	return asInt64(arr[0]), asInt64(arr[1]) == 1, nil
}

func (s *RedisStore) DecrementFloor(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := decrementFloorScript.Run(ctx, s.rdb, []string{key}, ttlSeconds(ttl)).Result()
	if err != nil {
		return 0, err
	}
	return asInt64(res), nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// ttlSeconds rounds ttl up to whole seconds, minimum one.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
