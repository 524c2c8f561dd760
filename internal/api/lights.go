package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/nearby"
	"streetlight-api/internal/reconcile"
)

const (
	// 单个附件上限 8 MiB，base64 膨胀约 4/3；报修结案可附多组照片，整体另设上限
	maxMutationBody = 48 << 20

	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// 文档注释：变更入口
// 背景：巡检 App 所有写入都走这一个端点，由 action 字段区分；请求先解码为带类型的变更，再交给对账器在写锁内执行。
// 约束：请求体格式错误、未知动作、字段缺失均返回 400 InvalidRequest，不进入写锁。
func (s *server) handleMutation(w http.ResponseWriter, r *http.Request) {
	var req reconcile.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMutationBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, errkind.InvalidRequest.WithMessagef("malformed request body: %v", err))
		return
	}
	m, err := reconcile.Decode(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.d.Reconciler.Apply(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Status:  statusSuccess,
		Action:  res.Action,
		ID:      res.ID,
		Removed: res.Removed,
		Entry:   res.Entry,
		Report:  res.Report,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errkind.InvalidRequest.WithMessagef("limit %q must be a positive integer", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	items, err := s.d.Store.RecentHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []lights.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Status: statusSuccess, Items: items})
}

// 文档注释：现况列表（合并报修摘要）
// 约束：?village= 按村里代码前缀过滤；?unrepaired=true 只返回有未查修报修单的路灯；unrepaired 计数在过滤后统计。
func (s *server) handleLights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := strings.TrimSpace(q.Get("village"))
	if prefix != "" && !lights.ValidVillageCode(prefix) {
		writeError(w, r, errkind.InvalidVillageCode.WithMessagef("village code %q must be %d digits", prefix, lights.CodeLength))
		return
	}
	onlyUnrepaired := false
	if v := strings.TrimSpace(q.Get("unrepaired")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errkind.InvalidRequest.WithMessagef("unrepaired %q must be a boolean", v))
			return
		}
		onlyUnrepaired = b
	}
	rows, err := s.d.Store.ListLights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := s.d.Store.ListRepairs(r.Context(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	states := lights.SummarizeRepairs(reports)
	resp := lightsResponse{Status: statusSuccess, Items: []lightView{}}
	for _, row := range rows {
		if prefix != "" && !strings.HasPrefix(row.ID, prefix) {
			continue
		}
		st := states[row.ID]
		if onlyUnrepaired && !st.Unrepaired {
			continue
		}
		if st.Unrepaired {
			resp.Unrepaired++
		}
		resp.Items = append(resp.Items, lightView{LightRecord: row, RepairState: st})
	}
	resp.Total = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleLight(w http.ResponseWriter, r *http.Request) {
	id := lights.CleanID(chi.URLParam(r, "id"))
	if !lights.ValidID(id) {
		writeError(w, r, errkind.InvalidRequest.WithMessagef("light id %q must be %d digits", id, lights.IDLength))
		return
	}
	row, ok, err := s.d.Store.GetLight(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, errkind.NotFound.WithMessagef("light %s not found", id))
		return
	}
	all, err := s.d.Store.ListRepairs(r.Context(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	mine := []lights.RepairReport{}
	for _, rep := range all {
		if lights.CleanID(rep.LightID) == id {
			mine = append(mine, rep)
		}
	}
	writeJSON(w, http.StatusOK, lightResponse{
		Status:  statusSuccess,
		Light:   lightView{LightRecord: row, RepairState: lights.SummarizeRepairs(mine)[id]},
		Village: s.d.Villages.Resolve(row.Lat, row.Lng),
		Repairs: mine,
	})
}

// 文档注释：报修单列表
// 约束：?status= 接受 未查修/已查修（或 pending/done），缺省返回全部；?light= 按编号过滤；按单号升序。
func (s *server) handleRepairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := lights.ParseRepairStatus(q.Get("status"))
	if err != nil {
		writeError(w, r, errkind.InvalidRequest.Wrap(err, "status"))
		return
	}
	id := ""
	if v := strings.TrimSpace(q.Get("light")); v != "" {
		if id = lights.CleanID(v); !lights.ValidID(id) {
			writeError(w, r, errkind.InvalidRequest.WithMessagef("light id %q must be %d digits", id, lights.IDLength))
			return
		}
	}
	items, err := s.d.Store.ListRepairs(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id != "" {
		kept := []lights.RepairReport{}
		for _, rep := range items {
			if lights.CleanID(rep.LightID) == id {
				kept = append(kept, rep)
			}
		}
		items = kept
	}
	if items == nil {
		items = []lights.RepairReport{}
	}
	writeJSON(w, http.StatusOK, repairsResponse{Status: statusSuccess, Total: len(items), Items: items})
}

// handleNearest：按球面距离找最近的路灯；radius 为可选上限（米）
func (s *server) handleNearest(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := queryCoord(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius := 0.0
	if v := strings.TrimSpace(r.URL.Query().Get("radius")); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius < 0 {
			writeError(w, r, errkind.InvalidRequest.WithMessagef("radius %q must be a non-negative number", v))
			return
		}
	}
	var ix *nearby.Index
	if s.near != nil {
		ix, err = s.near.Index(r.Context())
	} else {
		var rows []lights.LightRecord
		if rows, err = s.d.Store.ListLights(r.Context()); err == nil {
			ix = nearby.Build(rows)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	hit, ok := ix.Nearest(lat, lng, radius)
	if !ok {
		writeError(w, r, errkind.NotFound.WithMessage("no light within range"))
		return
	}
	writeJSON(w, http.StatusOK, nearestResponse{Status: statusSuccess, Light: hit.Light, Meters: hit.Meters})
}

// queryCoord 解析 ?lat=&lng=，规则与变更请求一致
func queryCoord(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	c, err := lights.ParseCoord(q.Get("lat"), q.Get("lng"))
	if err != nil {
		return 0, 0, err
	}
	lat, lng := c.Float()
	return lat, lng, nil
}
