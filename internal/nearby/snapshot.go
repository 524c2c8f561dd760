package nearby

import (
	"context"
	"sync"
	"sync/atomic"

	"streetlight-api/internal/lights"
)

// LoadFunc 读取现况表全量快照
type LoadFunc func(ctx context.Context) ([]lights.LightRecord, error)

// 文档注释：惰性重建的索引快照
// 背景：现况表只经由对账器修改，对账提交后调用 Invalidate；下一次查询时重建索引。
// 约束：重建期间并发查询串行等待同一次加载，不重复读库；加载期间若发生 Invalidate，
// 这次加载的结果只返回给本次调用，不写回快照。
type Snapshot struct {
	load LoadFunc
	cur  atomic.Pointer[Index]
	gen  atomic.Uint64
	mu   sync.Mutex
}

func NewSnapshot(load LoadFunc) *Snapshot { return &Snapshot{load: load} }

// Invalidate 丢弃当前索引
func (s *Snapshot) Invalidate() {
	s.gen.Add(1)
	s.cur.Store(nil)
}

// Index 返回当前索引，必要时重建
func (s *Snapshot) Index(ctx context.Context) (*Index, error) {
	if ix := s.cur.Load(); ix != nil {
		return ix, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ix := s.cur.Load(); ix != nil {
		return ix, nil
	}
	gen := s.gen.Load()
	rows, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	ix := Build(rows)
	if s.gen.Load() == gen {
		s.cur.Store(ix)
	}
	return ix, nil
}
