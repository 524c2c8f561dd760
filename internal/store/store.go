// 包 store: 现况表与历史记录的存储接口，以及基于 PostgreSQL 的实现
package store

import (
	"context"

	"streetlight-api/internal/lights"
)

// Reader：只读查询（列表与历史接口使用，不经过写锁）
type Reader interface {
	ListLights(ctx context.Context) ([]lights.LightRecord, error)
	GetLight(ctx context.Context, id string) (lights.LightRecord, bool, error)
	RecentHistory(ctx context.Context, limit int) ([]lights.HistoryEntry, error)
	CountLights(ctx context.Context) (int, error)
	// ListRepairs 按报修单号升序返回报修单；status 为空时不过滤
	ListRepairs(ctx context.Context, status lights.RepairStatus) ([]lights.RepairReport, error)
}

// 文档注释：写事务
// 背景：对账器在一次事务内完成读现况 → 写现况 → 追加历史，任一步失败整体回滚。
// 约束：编号参数已由调用方清洗；Commit/Rollback 之后事务不可再用，重复 Rollback 返回 nil。
type Tx interface {
	GetLight(ctx context.Context, id string) (lights.LightRecord, bool, error)
	// ListLightIDs 返回以 prefix 开头的编号（prefix 为空时返回全部）
	ListLightIDs(ctx context.Context, prefix string) ([]string, error)
	InsertLight(ctx context.Context, rec lights.LightRecord) error
	UpdateLight(ctx context.Context, rec lights.LightRecord) error
	DeleteLight(ctx context.Context, id string) error
	AppendHistory(ctx context.Context, h lights.HistoryEntry) error
	// DeleteHistory 删除一条匹配记录；多条匹配时删除最后追加的一条
	DeleteHistory(ctx context.Context, key lights.HistoryKey) (bool, error)
	// DeleteHistoryBatch 删除所有匹配任一键的记录，返回实际删除数
	DeleteHistoryBatch(ctx context.Context, keys []lights.HistoryKey) (int, error)
	// GetRepair 读取并锁定一张报修单
	GetRepair(ctx context.Context, reportID int64) (lights.RepairReport, bool, error)
	// InsertRepair 新增报修单，返回分配的单号
	InsertRepair(ctx context.Context, rep lights.RepairReport) (int64, error)
	// UpdateRepair 覆盖报修单的状态、结案日期、说明与照片
	UpdateRepair(ctx context.Context, rep lights.RepairReport) error
	Commit() error
	Rollback() error
}

// Store：完整存储协作者
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}
