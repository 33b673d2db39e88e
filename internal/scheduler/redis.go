package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper 使用 SET NX 记录已经发送过的提醒
type RedisDeduper struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewRedisDeduper(rdb *redis.Client, timeout time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, timeout: timeout}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.rdb.SetNX(ctx, "reminder_"+key, time.Now().Unix(), ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.rdb.Del(ctx, "reminder_"+key).Err()
}
