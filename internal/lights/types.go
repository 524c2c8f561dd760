// 包 lights：路灯现况表与历史记录的领域类型、编号规则与坐标解析
package lights

import "time"

// ActionKind：历史记录的操作类型
type ActionKind string

const (
	ActionNew         ActionKind = "new"
	ActionUpdate      ActionKind = "update"
	ActionRestore     ActionKind = "restore"
	ActionDeleteLight ActionKind = "deleteLight"
)

// Valid 判断是否为历史记录允许的操作类型
func (a ActionKind) Valid() bool {
	switch a {
	case ActionNew, ActionUpdate, ActionRestore, ActionDeleteLight:
		return true
	}
	return false
}

// DefaultNote：未填写备注时写入的默认说明
func (a ActionKind) DefaultNote() string {
	switch a {
	case ActionNew:
		return "新設路燈"
	case ActionUpdate:
		return "座標更新"
	case ActionRestore:
		return "座標還原"
	case ActionDeleteLight:
		return "移除路燈"
	}
	return ""
}

// LightRecord：现况表的一行
// 约束：ID 为 5 位数字，前 2 位为村里代码，后 3 位为村内流水号；现况表内唯一
type LightRecord struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Coord 返回记录当前的坐标
func (r LightRecord) Coord() Coord { return CoordFromFloat(r.Lat, r.Lng) }

// HistoryEntry：历史记录（仅追加）
// 约束：new 无 Before*；deleteLight 无 After*；除显式 delete/batchDelete 外不可修改
type HistoryEntry struct {
	Time          string     `json:"time"`
	LightID       string     `json:"lightId"`
	BeforeLat     string     `json:"beforeLat"`
	BeforeLng     string     `json:"beforeLng"`
	AfterLat      string     `json:"afterLat"`
	AfterLng      string     `json:"afterLng"`
	Action        ActionKind `json:"actionKind"`
	Note          string     `json:"note"`
	AttachmentURL string     `json:"attachmentUrl"`
	CreatedAt     time.Time  `json:"-"`
}

// Key 返回定位该记录的 (id, time)
func (h HistoryEntry) Key() HistoryKey { return HistoryKey{LightID: h.LightID, Time: h.Time} }

// HistoryKey：历史记录的删除键
type HistoryKey struct {
	LightID string `json:"id"`
	Time    string `json:"time"`
}

// Matches 按清洗后的编号与时间文本精确匹配
func (k HistoryKey) Matches(h HistoryEntry) bool {
	return CleanID(h.LightID) == CleanID(k.LightID) && h.Time == k.Time
}
