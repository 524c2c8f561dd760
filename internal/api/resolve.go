package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
	"streetlight-api/internal/village"
)

// 文档注释：带 Redis 热点缓存的村里解析
// 背景：巡检 App 在地图上拖动时会频繁询问同一点位所属村里；进程内 LRU 之外再加一层 Redis，让多实例共享结果。
// 约束：键含边界资料的内容摘要，任何途径重新载入边界（管理接口、夜间排程、其它实例、重启）后旧键不再被读取，
// 由 TTL 回收；Redis 不可用时直接走本地解析，不报错。
type villageResolver struct {
	rc       *redis.Client
	villages *village.Dynamic
	ttl      time.Duration
}

func resolveKey(version string, lat, lng float64) string {
	if version == "" {
		version = "none"
	}
	return "village:" + version + ":" +
		strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}

func (v *villageResolver) resolve(ctx context.Context, lat, lng float64) (village.Match, bool) {
	// 取一次解析器，键的版本与实际解析所用资料保持一致
	cur := v.villages.Load()
	local := func() village.Match {
		if cur == nil {
			return (*village.Registry)(nil).FallbackMatch()
		}
		return cur.Resolve(lat, lng)
	}
	if v.rc == nil {
		return local(), false
	}
	version := ""
	if cur != nil {
		version = cur.Version()
	}
	key := resolveKey(version, lat, lng)
	if s, err := v.rc.Get(ctx, key).Result(); err == nil && s != "" {
		var m village.Match
		if json.Unmarshal([]byte(s), &m) == nil {
			metrics.RedisHitsTotal.Inc()
			return m, true
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		logger.L().Debug("village_cache_get_error", "err", err)
	}
	metrics.RedisMissesTotal.Inc()
	m := local()
	b, _ := json.Marshal(m)
	ttl := v.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := v.rc.Set(ctx, key, string(b), ttl).Err(); err != nil {
		logger.L().Debug("village_cache_set_error", "err", err)
	}
	return m, false
}
