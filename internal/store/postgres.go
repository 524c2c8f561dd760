package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/logger"
)

// Postgres: 数据库访问入口，持有连接池
type Postgres struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) DB() *sql.DB { return s.db }

func (s *Postgres) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// unavailable 将驱动错误归类为 StorageUnavailable
func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	var ek *errkind.Error
	if errors.As(err, &ek) {
		return err
	}
	return errkind.StorageUnavailable.Wrap(err, op)
}

func (s *Postgres) ListLights(ctx context.Context) ([]lights.LightRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lng FROM _lights ORDER BY id`)
	if err != nil {
		return nil, unavailable(err, "list lights")
	}
	defer rows.Close()
	var out []lights.LightRecord
	for rows.Next() {
		var r lights.LightRecord
		if err := rows.Scan(&r.ID, &r.Lat, &r.Lng); err != nil {
			return nil, unavailable(err, "scan light")
		}
		out = append(out, r)
	}
	return out, unavailable(rows.Err(), "list lights")
}

func (s *Postgres) GetLight(ctx context.Context, id string) (lights.LightRecord, bool, error) {
	return getLight(ctx, s.db, id, false)
}

func (s *Postgres) CountLights(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _lights`).Scan(&n); err != nil {
		return 0, unavailable(err, "count lights")
	}
	return n, nil
}

// 文档注释：读取最近 N 条历史（新到旧）
// 约束：按追加序号倒序，time_label 仅作展示，不参与排序
func (s *Postgres) RecentHistory(ctx context.Context, limit int) ([]lights.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT time_label, light_id, before_lat, before_lng, after_lat, after_lng, action, note, attachment_url, created_at
        FROM _light_history
        ORDER BY seq DESC
        LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable(err, "recent history")
	}
	defer rows.Close()
	var out []lights.HistoryEntry
	for rows.Next() {
		var h lights.HistoryEntry
		var action string
		if err := rows.Scan(&h.Time, &h.LightID, &h.BeforeLat, &h.BeforeLng, &h.AfterLat, &h.AfterLng, &action, &h.Note, &h.AttachmentURL, &h.CreatedAt); err != nil {
			return nil, unavailable(err, "scan history")
		}
		h.Action = lights.ActionKind(action)
		out = append(out, h)
	}
	return out, unavailable(rows.Err(), "recent history")
}

const repairColumns = `report_id, light_id, reported_at, status, fault, repaired_on, repair_note, photos, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRepair(sc scanner) (lights.RepairReport, error) {
	var r lights.RepairReport
	var status string
	var photos []byte
	if err := sc.Scan(&r.ReportID, &r.LightID, &r.ReportedAt, &status, &r.Fault, &r.RepairedOn, &r.RepairNote, &photos, &r.CreatedAt); err != nil {
		return r, err
	}
	r.Status = lights.RepairStatus(status)
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &r.Photos); err != nil {
			return r, fmt.Errorf("decode photos of repair %d: %w", r.ReportID, err)
		}
	}
	return r, nil
}

// ListRepairs 报修单按单号升序（与原报修表的升冪排列一致）
func (s *Postgres) ListRepairs(ctx context.Context, status lights.RepairStatus) ([]lights.RepairReport, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+repairColumns+`
        FROM _light_repairs
        WHERE $1::text = '' OR status = $1::text
        ORDER BY report_id`, string(status))
	if err != nil {
		return nil, unavailable(err, "list repairs")
	}
	defer rows.Close()
	out := []lights.RepairReport{}
	for rows.Next() {
		r, err := scanRepair(rows)
		if err != nil {
			return nil, unavailable(err, "scan repair")
		}
		out = append(out, r)
	}
	return out, unavailable(rows.Err(), "list repairs")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLight(ctx context.Context, q queryer, id string, forUpdate bool) (lights.LightRecord, bool, error) {
	query := `SELECT id, lat, lng FROM _lights WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var r lights.LightRecord
	err := q.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Lat, &r.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return lights.LightRecord{}, false, nil
	}
	if err != nil {
		return lights.LightRecord{}, false, unavailable(err, "get light")
	}
	return r, true, nil
}

// Begin 开启写事务
func (s *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "begin")
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx   *sql.Tx
	done bool
}

func (t *pgTx) GetLight(ctx context.Context, id string) (lights.LightRecord, bool, error) {
	return getLight(ctx, t.tx, id, true)
}

func (t *pgTx) ListLightIDs(ctx context.Context, prefix string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM _lights WHERE id LIKE $1 || '%' ORDER BY id`, prefix)
	if err != nil {
		return nil, unavailable(err, "list ids")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err, "scan id")
		}
		out = append(out, id)
	}
	return out, unavailable(rows.Err(), "list ids")
}

func (t *pgTx) InsertLight(ctx context.Context, rec lights.LightRecord) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO _lights(id, lat, lng, updated_at) VALUES($1, $2, $3, now())`, rec.ID, rec.Lat, rec.Lng)
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return errkind.Conflict.WithMessagef("light %s already exists", rec.ID)
	}
	return unavailable(err, "insert light")
}

func (t *pgTx) UpdateLight(ctx context.Context, rec lights.LightRecord) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE _lights SET lat=$2, lng=$3, updated_at=now() WHERE id=$1`, rec.ID, rec.Lat, rec.Lng)
	if err != nil {
		return unavailable(err, "update light")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.NotFound.WithMessagef("light %s not found", rec.ID)
	}
	return nil
}

func (t *pgTx) DeleteLight(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM _lights WHERE id=$1`, id)
	if err != nil {
		return unavailable(err, "delete light")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.NotFound.WithMessagef("light %s not found", id)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h lights.HistoryEntry) error {
	created := h.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, `
        INSERT INTO _light_history(time_label, light_id, before_lat, before_lng, after_lat, after_lng, action, note, attachment_url, created_at)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.Time, h.LightID, h.BeforeLat, h.BeforeLng, h.AfterLat, h.AfterLng, string(h.Action), h.Note, h.AttachmentURL, created)
	return unavailable(err, "append history")
}

func (t *pgTx) DeleteHistory(ctx context.Context, key lights.HistoryKey) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
        DELETE FROM _light_history
        WHERE seq = (
            SELECT seq FROM _light_history
            WHERE light_id=$1 AND time_label=$2
            ORDER BY seq DESC
            LIMIT 1
        )`, lights.CleanID(key.LightID), key.Time)
	if err != nil {
		return false, unavailable(err, "delete history")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// 文档注释：批量删除历史
// 背景：键以两个并行数组传入，unnest 展开后与历史表连接，单条语句完成删除。
func (t *pgTx) DeleteHistoryBatch(ctx context.Context, keys []lights.HistoryKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ids := make([]string, len(keys))
	times := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = lights.CleanID(k.LightID)
		times[i] = k.Time
	}
	res, err := t.tx.ExecContext(ctx, `
        DELETE FROM _light_history h
        USING unnest($1::text[], $2::text[]) AS k(light_id, time_label)
        WHERE h.light_id = k.light_id AND h.time_label = k.time_label`, pq.Array(ids), pq.Array(times))
	if err != nil {
		return 0, unavailable(err, "batch delete history")
	}
	n, _ := res.RowsAffected()
	logger.L().Debug("history_batch_deleted", "requested", len(keys), "removed", n)
	return int(n), nil
}

func (t *pgTx) GetRepair(ctx context.Context, reportID int64) (lights.RepairReport, bool, error) {
	r, err := scanRepair(t.tx.QueryRowContext(ctx, `SELECT `+repairColumns+` FROM _light_repairs WHERE report_id=$1 FOR UPDATE`, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return lights.RepairReport{}, false, nil
	}
	if err != nil {
		return lights.RepairReport{}, false, unavailable(err, "get repair")
	}
	return r, true, nil
}

func (t *pgTx) InsertRepair(ctx context.Context, rep lights.RepairReport) (int64, error) {
	photos, err := json.Marshal(nonNilPhotos(rep.Photos))
	if err != nil {
		return 0, err
	}
	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	err = t.tx.QueryRowContext(ctx, `
        INSERT INTO _light_repairs(light_id, reported_at, status, fault, repaired_on, repair_note, photos, created_at)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING report_id`,
		rep.LightID, rep.ReportedAt, string(rep.Status), rep.Fault, rep.RepairedOn, rep.RepairNote, string(photos), created).Scan(&id)
	if err != nil {
		return 0, unavailable(err, "insert repair")
	}
	return id, nil
}

func (t *pgTx) UpdateRepair(ctx context.Context, rep lights.RepairReport) error {
	photos, err := json.Marshal(nonNilPhotos(rep.Photos))
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
        UPDATE _light_repairs SET status=$2, repaired_on=$3, repair_note=$4, photos=$5
        WHERE report_id=$1`, rep.ReportID, string(rep.Status), rep.RepairedOn, rep.RepairNote, string(photos))
	if err != nil {
		return unavailable(err, "update repair")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.NotFound.WithMessagef("repair report %d not found", rep.ReportID)
	}
	return nil
}

func nonNilPhotos(p []lights.RepairPhoto) []lights.RepairPhoto {
	if p == nil {
		return []lights.RepairPhoto{}
	}
	return p
}

func (t *pgTx) Commit() error {
	t.done = true
	return unavailable(t.tx.Commit(), "commit")
}

func (t *pgTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return unavailable(err, "rollback")
}
