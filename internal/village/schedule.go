package village

import (
	"context"
	"time"

	"streetlight-api/internal/logger"
)

// nextRunAt：now 之后第一个 loc 时区的 hour 整点（不含已过的当日）
func nextRunAt(now time.Time, loc *time.Location, hour int) time.Time {
	n := now.In(loc)
	t := time.Date(n.Year(), n.Month(), n.Day(), hour, 0, 0, 0, loc)
	if !t.After(n) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// 文档注释：每日定时重新载入村里边界
// 背景：公所更新村里界图后只需替换 GeoJSON 文件，夜间自动生效，不必重启或调用管理接口。
// 约束：hour 取 0..23，超出范围不启动；错误由日志记录，任务继续调度；ctx 取消后退出。
func StartNightlyReload(ctx context.Context, loc *time.Location, hour int, reload func(context.Context) (int, error)) {
	if hour < 0 || hour > 23 || reload == nil {
		return
	}
	l := logger.L()
	next := nextRunAt(time.Now(), loc, hour)
	l.Info("village_reload_scheduled", "next", next)
	go func() {
		for {
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if n, err := reload(ctx); err != nil {
				l.Error("village_reload_error", "err", err)
			} else {
				l.Info("village_reload_done", "regions", n)
			}
			next = nextRunAt(time.Now(), loc, hour)
		}
	}()
}
