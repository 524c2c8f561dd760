package lights

import (
	"fmt"
	"time"
)

// 民国纪年与西元的差值
const rocOffset = 1911

var taipei = loadTaipei()

func loadTaipei() *time.Location {
	if loc, err := time.LoadLocation("Asia/Taipei"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*3600)
}

// Taipei 返回历史时间标签所用的时区
func Taipei() *time.Location { return taipei }

// TimeLabel 生成历史记录的时间文本：民国年 yyy/M/d H:mm:ss.SSS（台北时间）
// 约束：该文本同时是 delete/batchDelete 的匹配键之一，格式变更会导致旧记录无法按键删除；
// 精确到毫秒，同一编号在同一秒内的多次变更仍可分别定位
func TimeLabel(t time.Time) string {
	t = t.In(taipei)
	return fmt.Sprintf("%d/%d/%d %d:%02d:%02d.%03d",
		t.Year()-rocOffset, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}
