package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/logger"
)

// 比对令牌后删除，防止锁过期后误删其他实例持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// 文档注释：基于 Redis 的跨实例单写者锁
// 背景：多实例部署时进程内锁无法互斥；以 SET NX PX 抢锁，持有期 TTL 防止实例崩溃后死锁。
// 约束：TTL 应大于单次对账最长耗时；等待期间按 retry 间隔轮询；Redis 不可用返回 StorageUnavailable。
type RedisLocker struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	retry time.Duration
}

func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "streetlight:reconcile:lock"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, errkind.StorageUnavailable.Wrap(err, "redis lock")
		}
		if ok {
			return func() {
				// 释放不受调用方 ctx 取消影响
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, l.rdb, []string{l.key}, token).Err(); err != nil {
					logger.L().Warn("redis_lock_release_failed", "key", l.key, "err", err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, errkind.ConcurrencyTimeout.WithMessagef("lock not acquired within %s", wait)
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, errkind.ConcurrencyTimeout.Wrap(ctx.Err(), "lock wait cancelled")
		}
	}
}
