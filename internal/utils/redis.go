package utils

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"streetlight-api/internal/logger"
)

// 文档注释：从环境变量打开 Redis 客户端
// 背景：Redis 只承载写锁与坐标查询缓存，两者都要求快速失败（锁退回等待重试，缓存退回本地计算），故超时取得较短。
// 约束：REDIS_URL 优先；否则用 REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB，REDIS_DB 非法时回退 0；
// 两者都未配置时返回 nil（分布式锁与查询缓存随之停用）。
func OpenRedisFromEnv() *redis.Client {
	var opt *redis.Options
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		o, err := redis.ParseURL(raw)
		if err != nil {
			logger.L().Error("redis_url_invalid", "err", err)
			return nil
		}
		opt = o
	} else {
		host := os.Getenv("REDIS_HOST")
		if host == "" {
			return nil
		}
		opt = &redis.Options{
			Addr:     net.JoinHostPort(host, envOr("REDIS_PORT", "6379")),
			Password: os.Getenv("REDIS_PASS"),
		}
		if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil && n >= 0 {
			opt.DB = n
		}
	}
	opt.ClientName = AppName
	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = time.Second
	opt.WriteTimeout = time.Second
	logger.L().Debug("redis_env", "addr", opt.Addr, "db", opt.DB)
	return redis.NewClient(opt)
}
