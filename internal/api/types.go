package api

import (
	"streetlight-api/internal/lights"
	"streetlight-api/internal/village"
)

// 文档注释：对外返回结构
// 背景：所有接口统一以 status 区分成功/失败，巡检 App 只检查这一字段即可决定提示文案。
// 约束：字段稳定；新增字段需评估 App 旧版本的兼容性。
type errorResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type mutationResponse struct {
	Status  string               `json:"status"`
	Action  string               `json:"action"`
	ID      string               `json:"id,omitempty"`
	Removed int                  `json:"removed,omitempty"`
	Entry   *lights.HistoryEntry `json:"entry,omitempty"`
	Report  *lights.RepairReport `json:"report,omitempty"`
}

type historyResponse struct {
	Status string                `json:"status"`
	Items  []lights.HistoryEntry `json:"items"`
}

// lightView：现况行合并报修摘要（unrepaired/fault/reportedAt 与 id/lat/lng 同层）
type lightView struct {
	lights.LightRecord
	lights.RepairState
}

type lightsResponse struct {
	Status     string      `json:"status"`
	Total      int         `json:"total"`
	Unrepaired int         `json:"unrepaired"`
	Items      []lightView `json:"items"`
}

type lightResponse struct {
	Status  string                `json:"status"`
	Light   lightView             `json:"light"`
	Village village.Match         `json:"village"`
	Repairs []lights.RepairReport `json:"repairs"`
}

type repairsResponse struct {
	Status string                `json:"status"`
	Total  int                   `json:"total"`
	Items  []lights.RepairReport `json:"items"`
}

type nearestResponse struct {
	Status string             `json:"status"`
	Light  lights.LightRecord `json:"light"`
	Meters float64            `json:"meters"`
}

type villagesResponse struct {
	Status   string               `json:"status"`
	Villages []village.Definition `json:"villages"`
	Fallback village.Definition   `json:"fallback"`
}

type resolveResponse struct {
	Status  string        `json:"status"`
	Village village.Match `json:"village"`
	Cached  bool          `json:"cached,omitempty"`
}

type nextIDResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	ID     string `json:"id"`
}

type healthResponse struct {
	Status string `json:"status"`
	Checks any    `json:"checks"`
}
