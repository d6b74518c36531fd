package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out SETNX leases. Each locker instance has its own owner token so a
// replica only ever releases leases it took.
type RedisLocker struct {
	redisClient *redis.Client
	owner       string
}

func NewRedisLocker(redisClient *redis.Client) *RedisLocker {
	return &RedisLocker{redisClient: redisClient, owner: uuid.NewString()}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.redisClient.SetNX(ctx, lockKey(key), l.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.redisClient, []string{lockKey(key)}, l.owner).Err()
}

func lockKey(key string) string {
	return fmt.Sprintf("sweep_lock:%s", key)
}
