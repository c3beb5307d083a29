package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Первый INCR в окне ставит TTL; всё, что сверх limit, отвергается.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

const (
	defaultPrefix = "users:rl:"
	callTimeout   = 250 * time.Millisecond
)

// Redis — счётчики в Redis, общие для всех реплик.
type Redis struct {
	rdb    *redis.Client
	script *redis.Script
	prefix string
}

// NewRedis создаёт клиент из URL (например, redis://:pass@host:6379/0) и
// проверяет соединение. Пустой prefix заменяется на "users:rl:".
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	const op = "ratelimit.NewRedis"

	if prefix == "" {
		prefix = defaultPrefix
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Redis{rdb: rdb, script: redis.NewScript(fixedWindowScript), prefix: prefix}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	const op = "ratelimit.Redis.Allow"

	if bypass(key, limit, window) {
		return true, nil
	}

	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	allowed, err := r.script.Run(ctx, r.rdb, []string{r.prefix + key}, ttl, limit).Int64()
	if err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}

	return allowed == 1, nil
}

// Close закрывает клиент Redis.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
