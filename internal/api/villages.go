package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/village"
)

func (s *server) handleVillages(w http.ResponseWriter, r *http.Request) {
	resp := villagesResponse{
		Status:   statusSuccess,
		Villages: []village.Definition{},
		Fallback: village.Definition{Name: village.DefaultFallbackName, Code: village.DefaultFallbackCode},
	}
	if res := s.d.Villages.Load(); res != nil && res.Registry() != nil {
		reg := res.Registry()
		resp.Villages = append(resp.Villages, reg.Villages...)
		resp.Fallback = reg.Fallback
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := queryCoord(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, cached := s.resolver.resolve(r.Context(), lat, lng)
	writeJSON(w, http.StatusOK, resolveResponse{Status: statusSuccess, Village: m, Cached: cached})
}

// 文档注释：预览村里的下一个编号
// 背景：巡检 App 新设路灯前先显示即将分配的编号；不保留编号，真正分配在变更事务内进行，两者可能不同。
// 约束：代码须为 2 位数字且在登记表中（兜底代码同样可以预览）。
func (s *server) handleNextID(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if !lights.ValidVillageCode(code) {
		writeError(w, r, errkind.InvalidVillageCode.WithMessagef("village code %q must be %d digits", code, lights.CodeLength))
		return
	}
	if !s.d.Villages.KnownCode(code) {
		writeError(w, r, errkind.InvalidVillageCode.WithMessagef("village code %s is not registered", code))
		return
	}
	rows, err := s.d.Store.ListLights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	id, err := lights.NextID(code, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextIDResponse{Status: statusSuccess, Code: code, ID: id})
}

func (s *server) handleReloadVillages(w http.ResponseWriter, r *http.Request) {
	if s.d.ReloadVillages == nil {
		writeError(w, r, errkind.InvalidRequest.WithMessage("village reload is not configured"))
		return
	}
	n, err := s.d.ReloadVillages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusSuccess, "regions": n, "version": s.d.Villages.Version()})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: []any{}})
		return
	}
	st, ready := s.d.Health.Snapshot()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: st})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: st})
}
