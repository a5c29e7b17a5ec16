package window

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"patientsync/internal/process/models"
)

const keyPrefix = "patientsync:window:"

// reserveScript trims expired members, then adds one if the window has room.
// Scores are unix milliseconds. Returns {allowed, count, oldest_score}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then score = tonumber(oldest[2]) end
  return {0, count, score}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

// RedisStore keeps the window in a sorted set so every instance shares it.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*models.Reservation, error) {
	token := uuid.NewString()
	nowMs := now.UnixMilli()
	res, err := reserveScript.Run(ctx, s.client, []string{keyPrefix + key},
		nowMs, window.Milliseconds(), limit, token).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("reserve window slot: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("reserve window slot: unexpected reply %v", res)
	}

	count := int(res[1])
	resetAt := time.UnixMilli(res[2]).Add(window)
	if res[0] == 0 {
		return &models.Reservation{Allowed: false, Count: count, Limit: limit, ResetAt: resetAt}, nil
	}
	return &models.Reservation{
		Allowed:   true,
		Token:     token,
		Count:     count,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := s.client.ZRem(ctx, keyPrefix+key, token).Err(); err != nil {
		return fmt.Errorf("release window slot: %w", err)
	}
	return nil
}
