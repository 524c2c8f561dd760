// 包 memstore: 进程内存储实现（测试与单机演示使用，STORE=memory）
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/store"
)

// 文档注释：内存存储
// 背景：现况表为按编号升序的切片，历史为按追加顺序的稠密切片，与原试算表的两张工作表同构。
// 约束：写事务持有互斥锁直至 Commit/Rollback，事务内操作工作副本，提交时整体替换，回滚即丢弃。
type Store struct {
	mu      sync.RWMutex
	writer  sync.Mutex
	rows    []lights.LightRecord
	history []lights.HistoryEntry
	repairs []lights.RepairReport

	// FailNext 非空时，下一次 Commit 返回该错误（测试注入存储故障）
	FailNext error
}

func New() *Store { return &Store{} }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListLights(context.Context) ([]lights.LightRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]lights.LightRecord(nil), s.rows...), nil
}

func (s *Store) GetLight(_ context.Context, id string) (lights.LightRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := find(s.rows, id); ok {
		return s.rows[i], true, nil
	}
	return lights.LightRecord{}, false, nil
}

func (s *Store) CountLights(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

func (s *Store) RecentHistory(_ context.Context, limit int) ([]lights.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lights.HistoryEntry, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *Store) ListRepairs(_ context.Context, status lights.RepairStatus) ([]lights.RepairReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []lights.RepairReport{}
	for _, r := range s.repairs {
		if status == "" || r.Status == status {
			out = append(out, cloneRepair(r))
		}
	}
	return out, nil
}

func cloneRepair(r lights.RepairReport) lights.RepairReport {
	r.Photos = append([]lights.RepairPhoto(nil), r.Photos...)
	return r
}

// History 返回追加顺序的全部历史（测试断言使用）
func (s *Store) History() []lights.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]lights.HistoryEntry(nil), s.history...)
}

func find(rows []lights.LightRecord, id string) (int, bool) {
	id = lights.CleanID(id)
	i := sort.Search(len(rows), func(i int) bool { return rows[i].ID >= id })
	return i, i < len(rows) && rows[i].ID == id
}

func (s *Store) Begin(context.Context) (store.Tx, error) {
	s.writer.Lock()
	s.mu.RLock()
	tx := &memTx{
		s:       s,
		rows:    append([]lights.LightRecord(nil), s.rows...),
		history: append([]lights.HistoryEntry(nil), s.history...),
		repairs: append([]lights.RepairReport(nil), s.repairs...),
	}
	s.mu.RUnlock()
	return tx, nil
}

type memTx struct {
	s       *Store
	rows    []lights.LightRecord
	history []lights.HistoryEntry
	repairs []lights.RepairReport
	done    bool
}

func (t *memTx) check() error {
	if t.done {
		return errkind.StorageUnavailable.WithMessage("transaction already finished")
	}
	return nil
}

func (t *memTx) GetLight(_ context.Context, id string) (lights.LightRecord, bool, error) {
	if err := t.check(); err != nil {
		return lights.LightRecord{}, false, err
	}
	if i, ok := find(t.rows, id); ok {
		return t.rows[i], true, nil
	}
	return lights.LightRecord{}, false, nil
}

func (t *memTx) ListLightIDs(_ context.Context, prefix string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var out []string
	for _, r := range t.rows {
		if strings.HasPrefix(r.ID, prefix) {
			out = append(out, r.ID)
		}
	}
	return out, nil
}

func (t *memTx) InsertLight(_ context.Context, rec lights.LightRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	i, ok := find(t.rows, rec.ID)
	if ok {
		return errkind.Conflict.WithMessagef("light %s already exists", rec.ID)
	}
	// 按编号有序插入，维持升序
	t.rows = append(t.rows, lights.LightRecord{})
	copy(t.rows[i+1:], t.rows[i:])
	t.rows[i] = rec
	return nil
}

func (t *memTx) UpdateLight(_ context.Context, rec lights.LightRecord) error {
	if err := t.check(); err != nil {
		return err
	}
	i, ok := find(t.rows, rec.ID)
	if !ok {
		return errkind.NotFound.WithMessagef("light %s not found", rec.ID)
	}
	t.rows[i] = rec
	return nil
}

func (t *memTx) DeleteLight(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	i, ok := find(t.rows, id)
	if !ok {
		return errkind.NotFound.WithMessagef("light %s not found", id)
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h lights.HistoryEntry) error {
	if err := t.check(); err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	t.history = append(t.history, h)
	return nil
}

func (t *memTx) DeleteHistory(_ context.Context, key lights.HistoryKey) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if key.Matches(t.history[i]) {
			t.history = append(t.history[:i], t.history[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// 文档注释：批量删除
// 约束：先收集匹配下标，再按下标从大到小删除，避免删除过程中下标前移
func (t *memTx) DeleteHistoryBatch(_ context.Context, keys []lights.HistoryKey) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var idx []int
	for i, h := range t.history {
		for _, k := range keys {
			if k.Matches(h) {
				idx = append(idx, i)
				break
			}
		}
	}
	for j := len(idx) - 1; j >= 0; j-- {
		i := idx[j]
		t.history = append(t.history[:i], t.history[i+1:]...)
	}
	return len(idx), nil
}

func (t *memTx) findRepair(reportID int64) (int, bool) {
	i := sort.Search(len(t.repairs), func(i int) bool { return t.repairs[i].ReportID >= reportID })
	return i, i < len(t.repairs) && t.repairs[i].ReportID == reportID
}

func (t *memTx) GetRepair(_ context.Context, reportID int64) (lights.RepairReport, bool, error) {
	if err := t.check(); err != nil {
		return lights.RepairReport{}, false, err
	}
	if i, ok := t.findRepair(reportID); ok {
		return cloneRepair(t.repairs[i]), true, nil
	}
	return lights.RepairReport{}, false, nil
}

func (t *memTx) InsertRepair(_ context.Context, rep lights.RepairReport) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var next int64 = 1
	if n := len(t.repairs); n > 0 {
		next = t.repairs[n-1].ReportID + 1
	}
	rep.ReportID = next
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	t.repairs = append(t.repairs, cloneRepair(rep))
	return next, nil
}

func (t *memTx) UpdateRepair(_ context.Context, rep lights.RepairReport) error {
	if err := t.check(); err != nil {
		return err
	}
	i, ok := t.findRepair(rep.ReportID)
	if !ok {
		return errkind.NotFound.WithMessagef("repair report %d not found", rep.ReportID)
	}
	cur := &t.repairs[i]
	cur.Status = rep.Status
	cur.RepairedOn = rep.RepairedOn
	cur.RepairNote = rep.RepairNote
	cur.Photos = append([]lights.RepairPhoto(nil), rep.Photos...)
	return nil
}

func (t *memTx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	defer t.s.writer.Unlock()
	if err := t.s.FailNext; err != nil {
		t.s.FailNext = nil
		return errkind.StorageUnavailable.Wrap(err, "commit")
	}
	t.s.mu.Lock()
	t.s.rows = t.rows
	t.s.history = t.history
	t.s.repairs = t.repairs
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.writer.Unlock()
	return nil
}
