package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"streetlight-api/internal/attachment"
	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
	"streetlight-api/internal/store"
)

// Result：变更结果
type Result struct {
	Action  string               `json:"action"`
	ID      string               `json:"id,omitempty"`
	Removed int                  `json:"removed,omitempty"`
	Entry   *lights.HistoryEntry `json:"entry,omitempty"`
	Report  *lights.RepairReport `json:"report,omitempty"`
}

// Deps：对账器的协作者；Store 必填，其余可为空
type Deps struct {
	Store       store.Store
	Locker      Locker
	Villages    VillageCodes
	Attachments AttachmentStore
	Publisher   Publisher
	// OnCommit 在每次成功提交后同步调用（如让最近邻索引失效）
	OnCommit []func()
	LockWait time.Duration
	Now      func() time.Time
}

// 文档注释：对账器
// 背景：所有对现况表与历史记录的写入都经过这里；一次变更 = 取锁 → 事务内读现况 → 写现况 → 追加历史 → 提交。
// 约束：现况行的变更与历史追加必在同一事务内，任一步失败整体回滚；不做任何自动重试。
type Reconciler struct {
	d Deps

	mu   sync.Mutex
	last time.Time
}

func New(d Deps) *Reconciler {
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.LockWait <= 0 {
		d.LockWait = DefaultLockWait
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Reconciler{d: d}
}

// Apply 执行一次变更
func (r *Reconciler) Apply(ctx context.Context, m Mutation) (Result, error) {
	start := time.Now()
	action := m.Action()
	res, err := r.apply(ctx, m)
	dur := time.Since(start)
	metrics.MutationDurationMs.WithLabelValues(action).Observe(float64(dur.Milliseconds()))
	if err != nil {
		metrics.MutationsTotal.WithLabelValues(action, errkind.KindOf(err)).Inc()
		logger.L().Warn("mutation_failed", "action", action, "kind", errkind.KindOf(err), "err", err, "duration_ms", dur.Milliseconds())
		return Result{}, err
	}
	metrics.MutationsTotal.WithLabelValues(action, "ok").Inc()
	logger.L().Info("mutation_applied", "action", action, "id", res.ID, "removed", res.Removed, "duration_ms", dur.Milliseconds())
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, m Mutation) (res Result, err error) {
	waitStart := time.Now()
	release, err := r.d.Locker.Acquire(ctx, r.d.LockWait)
	metrics.LockWaitMs.Observe(float64(time.Since(waitStart).Milliseconds()))
	if err != nil {
		if errors.Is(err, errkind.ConcurrencyTimeout) {
			metrics.LockTimeoutsTotal.Inc()
		}
		return Result{}, err
	}
	defer release()

	up, err := r.upload(ctx, m)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err != nil {
			r.discard(up.all...)
		}
	}()

	tx, err := r.d.Store.Begin(ctx)
	if err != nil {
		return Result{}, asStorage(err, "begin")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.L().Error("rollback_failed", "err", rbErr)
			}
		}
	}()

	label := lights.TimeLabel(r.stamp())
	switch v := m.(type) {
	case NewLight:
		res, err = r.newLight(ctx, tx, v, label, up.url)
	case MoveLight:
		res, err = r.moveLight(ctx, tx, v, label, up.url)
	case RemoveLight:
		res, err = r.removeLight(ctx, tx, v, label)
	case DeleteHistory:
		res, err = r.deleteHistory(ctx, tx, v)
	case BatchDeleteHistory:
		res, err = r.batchDelete(ctx, tx, v)
	case ReportFault:
		res, err = r.reportFault(ctx, tx, v, label)
	case CompleteRepair:
		res, err = r.completeRepair(ctx, tx, v, up.photos)
	default:
		err = errkind.InvalidRequest.WithMessagef("unsupported mutation %T", m)
	}
	if err != nil {
		return Result{}, asStorage(err, m.Action())
	}
	if err = tx.Commit(); err != nil {
		committed = true
		return Result{}, asStorage(err, "commit")
	}
	committed = true

	for _, fn := range r.d.OnCommit {
		fn()
	}
	r.publish(ctx, res)
	return res, nil
}

// stamp 返回本次变更的时间；同一进程内严格递增（至少相差 1ms），时间标签因此不会重复
func (r *Reconciler) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.d.Now()
	if !t.After(r.last.Add(time.Millisecond - 1)) {
		t = r.last.Add(time.Millisecond)
	}
	r.last = t
	return t
}

// asStorage 未分类的协作者错误统一归为 StorageUnavailable
func asStorage(err error, op string) error {
	var ek *errkind.Error
	if errors.As(err, &ek) {
		return err
	}
	return errkind.StorageUnavailable.Wrap(err, op)
}

func (r *Reconciler) newLight(ctx context.Context, tx store.Tx, m NewLight, label, url string) (Result, error) {
	if r.d.Villages != nil && !r.d.Villages.KnownCode(m.VillageCode) {
		return Result{}, errkind.InvalidVillageCode.WithMessagef("village code %s is not registered", m.VillageCode)
	}
	id := m.ID
	if id != "" {
		if lights.VillageOf(id) != m.VillageCode {
			return Result{}, errkind.InvalidRequest.WithMessagef("id %s is outside village %s", id, m.VillageCode)
		}
		_, exists, err := tx.GetLight(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if exists {
			return Result{}, errkind.Conflict.WithMessagef("light %s already exists", id)
		}
	} else {
		ids, err := tx.ListLightIDs(ctx, m.VillageCode)
		if err != nil {
			return Result{}, err
		}
		if id, err = lights.NextID(m.VillageCode, ids); err != nil {
			return Result{}, err
		}
	}
	return r.insert(ctx, tx, id, m.Coord, m.Note, label, url)
}

func (r *Reconciler) insert(ctx context.Context, tx store.Tx, id string, c lights.Coord, note, label, url string) (Result, error) {
	lat, lng := c.Float()
	if err := tx.InsertLight(ctx, lights.LightRecord{ID: id, Lat: lat, Lng: lng}); err != nil {
		return Result{}, err
	}
	h := lights.HistoryEntry{
		Time:          label,
		LightID:       id,
		Action:        lights.ActionNew,
		Note:          noteOr(note, lights.ActionNew),
		AttachmentURL: url,
		CreatedAt:     r.d.Now(),
	}
	h.AfterLat, h.AfterLng = c.Strings()
	if err := tx.AppendHistory(ctx, h); err != nil {
		return Result{}, err
	}
	return Result{Action: ActionNew, ID: id, Entry: &h}, nil
}

// 文档注释：坐标更新 / 还原 / upsert
// 背景：旧坐标以现况表为准写入 before*；调用方提供的 Before 仅用于发现并发编辑，不一致时记录告警。
// 约束：update/restore 遇到不存在的编号返回 NotFound；只有 upsert 会在缺失时新增并记为 new。
func (r *Reconciler) moveLight(ctx context.Context, tx store.Tx, m MoveLight, label, url string) (Result, error) {
	cur, ok, err := tx.GetLight(ctx, m.ID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		if m.Kind != MoveUpsert {
			return Result{}, errkind.NotFound.WithMessagef("light %s not found", m.ID)
		}
		code := lights.VillageOf(m.ID)
		if r.d.Villages != nil && !r.d.Villages.KnownCode(code) {
			return Result{}, errkind.InvalidVillageCode.WithMessagef("village code %s is not registered", code)
		}
		logger.L().Warn("update_missing_inserted", "id", m.ID)
		return r.insert(ctx, tx, m.ID, m.Coord, m.Note, label, url)
	}
	before := cur.Coord()
	if m.Before != nil && !m.Before.Equal(before) {
		bl, bg := m.Before.Strings()
		sl, sg := before.Strings()
		logger.L().Warn("before_mismatch", "id", m.ID, "client_lat", bl, "client_lng", bg, "stored_lat", sl, "stored_lng", sg)
	}
	kind := lights.ActionUpdate
	if m.Kind == MoveRestore {
		kind = lights.ActionRestore
	}
	lat, lng := m.Coord.Float()
	if err := tx.UpdateLight(ctx, lights.LightRecord{ID: m.ID, Lat: lat, Lng: lng}); err != nil {
		return Result{}, err
	}
	h := lights.HistoryEntry{
		Time:          label,
		LightID:       m.ID,
		Action:        kind,
		Note:          noteOr(m.Note, kind),
		AttachmentURL: url,
		CreatedAt:     r.d.Now(),
	}
	h.BeforeLat, h.BeforeLng = before.Strings()
	h.AfterLat, h.AfterLng = m.Coord.Strings()
	if err := tx.AppendHistory(ctx, h); err != nil {
		return Result{}, err
	}
	return Result{Action: string(m.Kind), ID: m.ID, Entry: &h}, nil
}

func (r *Reconciler) removeLight(ctx context.Context, tx store.Tx, m RemoveLight, label string) (Result, error) {
	cur, ok, err := tx.GetLight(ctx, m.ID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errkind.NotFound.WithMessagef("light %s not found", m.ID)
	}
	if err := tx.DeleteLight(ctx, m.ID); err != nil {
		return Result{}, err
	}
	h := lights.HistoryEntry{
		Time:      label,
		LightID:   m.ID,
		Action:    lights.ActionDeleteLight,
		Note:      noteOr(m.Note, lights.ActionDeleteLight),
		CreatedAt: r.d.Now(),
	}
	h.BeforeLat, h.BeforeLng = cur.Coord().Strings()
	if err := tx.AppendHistory(ctx, h); err != nil {
		return Result{}, err
	}
	return Result{Action: ActionDeleteLight, ID: m.ID, Entry: &h}, nil
}

func (r *Reconciler) deleteHistory(ctx context.Context, tx store.Tx, m DeleteHistory) (Result, error) {
	ok, err := tx.DeleteHistory(ctx, m.Key)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errkind.NotFound.WithMessagef("no history entry for %s at %s", m.Key.LightID, m.Key.Time)
	}
	return Result{Action: ActionDelete, ID: m.Key.LightID, Removed: 1}, nil
}

func (r *Reconciler) batchDelete(ctx context.Context, tx store.Tx, m BatchDeleteHistory) (Result, error) {
	n, err := tx.DeleteHistoryBatch(ctx, m.Keys)
	if err != nil {
		return Result{}, err
	}
	if n < len(m.Keys) {
		logger.L().Info("batch_delete_partial", "requested", len(m.Keys), "removed", n)
	}
	return Result{Action: ActionBatchDelete, Removed: n}, nil
}

// 文档注释：登记报修单
// 约束：编号须在现况表中；报修单只新增一行，不动现况表与坐标历史。
func (r *Reconciler) reportFault(ctx context.Context, tx store.Tx, m ReportFault, label string) (Result, error) {
	if _, ok, err := tx.GetLight(ctx, m.ID); err != nil {
		return Result{}, err
	} else if !ok {
		return Result{}, errkind.NotFound.WithMessagef("light %s not found", m.ID)
	}
	rep := lights.RepairReport{
		LightID:    m.ID,
		ReportedAt: m.ReportedAt,
		Status:     lights.RepairPending,
		Fault:      m.Fault,
		CreatedAt:  r.d.Now(),
	}
	if rep.ReportedAt == "" {
		rep.ReportedAt = label
	}
	id, err := tx.InsertRepair(ctx, rep)
	if err != nil {
		return Result{}, err
	}
	rep.ReportID = id
	return Result{Action: ActionReportFault, ID: m.ID, Report: &rep}, nil
}

// 文档注释：报修单结案
// 背景：现场人员回报维修日期、说明与前后对照照片；照片已在事务前上传，这里只记录 URL。
// 约束：单号不存在返回 NotFound；已结案的单返回 Conflict，不覆盖原结案资料。
func (r *Reconciler) completeRepair(ctx context.Context, tx store.Tx, m CompleteRepair, photos []lights.RepairPhoto) (Result, error) {
	rep, ok, err := tx.GetRepair(ctx, m.ReportID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errkind.NotFound.WithMessagef("repair report %d not found", m.ReportID)
	}
	if !rep.Pending() {
		return Result{}, errkind.Conflict.WithMessagef("repair report %d already closed on %s", m.ReportID, rep.RepairedOn)
	}
	rep.Status = lights.RepairDone
	rep.RepairedOn = m.Date
	rep.RepairNote = m.Note
	rep.Photos = photos
	if err := tx.UpdateRepair(ctx, rep); err != nil {
		return Result{}, err
	}
	return Result{Action: ActionCompleteRepair, ID: rep.LightID, Report: &rep}, nil
}

func noteOr(note string, kind lights.ActionKind) string {
	if note != "" {
		return note
	}
	return kind.DefaultNote()
}

// uploads：事务开始前已上传的附件
type uploads struct {
	url    string
	photos []lights.RepairPhoto
	all    []string
}

// upload 在事务开始前上传附件；未配置附件存储时丢弃附件并告警；中途失败会清理已上传的部分
func (r *Reconciler) upload(ctx context.Context, m Mutation) (uploads, error) {
	var up uploads
	var single *attachment.Payload
	var pairs []PhotoPayloads
	switch v := m.(type) {
	case NewLight:
		single = v.Attachment
	case MoveLight:
		single = v.Attachment
	case CompleteRepair:
		pairs = v.Photos
	}
	if single == nil && len(pairs) == 0 {
		return up, nil
	}
	if r.d.Attachments == nil {
		logger.L().Warn("attachment_dropped", "action", m.Action(), "reason", "no attachment store")
		return up, nil
	}
	put := func(p *attachment.Payload) (string, error) {
		if p == nil {
			return "", nil
		}
		url, err := r.d.Attachments.Put(ctx, p)
		if err != nil {
			r.discard(up.all...)
			return "", errkind.StorageUnavailable.Wrap(err, "attachment")
		}
		up.all = append(up.all, url)
		return url, nil
	}
	var err error
	if up.url, err = put(single); err != nil {
		return uploads{}, err
	}
	for _, pair := range pairs {
		var ph lights.RepairPhoto
		if ph.Before, err = put(pair.Before); err != nil {
			return uploads{}, err
		}
		if ph.After, err = put(pair.After); err != nil {
			return uploads{}, err
		}
		up.photos = append(up.photos, ph)
	}
	return up, nil
}

func (r *Reconciler) discard(urls ...string) {
	if len(urls) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, url := range urls {
		if err := r.d.Attachments.Remove(ctx, url); err != nil {
			logger.L().Warn("attachment_cleanup_failed", "url", url, "err", err)
		}
	}
}

func (r *Reconciler) publish(ctx context.Context, res Result) {
	if r.d.Publisher == nil {
		return
	}
	ev := MutationEvent{
		EventID: uuid.NewString(),
		Action:  res.Action,
		LightID: res.ID,
		Removed: res.Removed,
		Entry:   res.Entry,
		Report:  res.Report,
		At:      r.d.Now(),
	}
	if err := r.d.Publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.L().Warn("event_publish_failed", "action", ev.Action, "id", ev.LightID, "err", err)
	}
}
