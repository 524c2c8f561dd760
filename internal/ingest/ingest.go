// 包 ingest：现况表初始数据导入（opensheet JSON 或 CSV），作为离线数据通道
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"streetlight-api/internal/lights"
	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
	"streetlight-api/internal/store"
)

// 试算表原始栏位名（与巡检表单一致）
const (
	ColID  = "原路燈號碼"
	ColLat = "緯度Latitude"
	ColLng = "經度Longitude"
)

var (
	idCols  = []string{ColID, "id", "lightId"}
	latCols = []string{ColLat, "lat", "latitude"}
	lngCols = []string{ColLng, "lng", "longitude"}
)

// Skipped：被跳过的行（行号从 1 起，不含表头）
type Skipped struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// 文档注释：解析 opensheet JSON（对象数组，键为栏位名）
// 约束：编号经 CleanID 清洗；编号或坐标非法的行跳过并记录原因；重复编号保留首行。
func ParseJSON(r io.Reader) ([]lights.LightRecord, []Skipped, error) {
	var rows []map[string]any
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, nil, fmt.Errorf("parse sheet json: %w", err)
	}
	p := newParser()
	for i, row := range rows {
		p.add(i+1, pick(row, idCols), pick(row, latCols), pick(row, lngCols))
	}
	return p.out, p.skipped, nil
}

// ParseCSV 解析带表头的 CSV（栏位名同 opensheet）
func ParseCSV(r io.Reader) ([]lights.LightRecord, []Skipped, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	col := func(rec []string, names []string) string {
		for _, n := range names {
			if i, ok := idx[n]; ok && i < len(rec) {
				return rec[i]
			}
		}
		return ""
	}
	if col(header, idCols) == "" {
		return nil, nil, fmt.Errorf("csv header has no id column (%s)", ColID)
	}
	p := newParser()
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", n, err)
		}
		p.add(n, col(rec, idCols), col(rec, latCols), col(rec, lngCols))
	}
	return p.out, p.skipped, nil
}

type parser struct {
	seen    map[string]bool
	out     []lights.LightRecord
	skipped []Skipped
}

func newParser() *parser { return &parser{seen: map[string]bool{}} }

func (p *parser) add(row int, rawID, rawLat, rawLng string) {
	id := lights.CleanID(rawID)
	if !lights.ValidID(id) {
		p.skipped = append(p.skipped, Skipped{Row: row, Reason: fmt.Sprintf("invalid id %q", rawID)})
		return
	}
	c, err := lights.ParseCoord(rawLat, rawLng)
	if err != nil {
		p.skipped = append(p.skipped, Skipped{Row: row, Reason: err.Error()})
		return
	}
	if p.seen[id] {
		p.skipped = append(p.skipped, Skipped{Row: row, Reason: "duplicate id " + id})
		return
	}
	p.seen[id] = true
	lat, lng := c.Float()
	p.out = append(p.out, lights.LightRecord{ID: id, Lat: lat, Lng: lng})
}

func pick(row map[string]any, names []string) string {
	for _, n := range names {
		switch v := row[n].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// 文档注释：读取数据源（http(s) URL 或本地文件），按扩展名或内容类型选择 CSV/JSON
// 异常：网络错误/非 200/解析失败直接返回，不做重试（交由调用方处理）
func Load(ctx context.Context, src string) ([]lights.LightRecord, []Skipped, error) {
	var body io.ReadCloser
	isCSV := strings.HasSuffix(strings.ToLower(src), ".csv")
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "csv") {
			isCSV = true
		}
		body = resp.Body
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, nil, err
		}
		body = f
	}
	defer body.Close()
	if isCSV {
		return ParseCSV(body)
	}
	return ParseJSON(body)
}

// 文档注释：现况表为空时导入初始数据
// 背景：仅用于首次部署；之后的变更一律经过对账器，历史记录才能与现况表成对。
// 约束：所有行在同一事务内写入，失败整体回滚；表非空时直接返回 0 且不读取数据源。
func EnsureSeeded(ctx context.Context, st store.Store, src string) (int, error) {
	n, err := st.CountLights(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.L().Info("seed_skip", "existing", n)
		return 0, nil
	}
	rows, skipped, err := Load(ctx, src)
	if err != nil {
		return 0, err
	}
	for _, s := range skipped {
		logger.L().Warn("seed_row_skipped", "row", s.Row, "reason", s.Reason)
	}
	return Import(ctx, st, rows)
}

// Import 在一个事务内写入全部记录
func Import(ctx context.Context, st store.Store, rows []lights.LightRecord) (int, error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for i, r := range rows {
		if err := tx.InsertLight(ctx, r); err != nil {
			return 0, fmt.Errorf("row %s: %w", r.ID, err)
		}
		if (i+1)%1000 == 0 {
			logger.L().Info("seed_progress", "rows", i+1)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.RowsImportedTotal.Add(float64(len(rows)))
	logger.L().Info("seed_done", "rows", len(rows))
	return len(rows), nil
}
