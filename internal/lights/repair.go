package lights

import (
	"fmt"
	"strings"
	"time"
)

// RepairStatus：报修单的维修情形
type RepairStatus string

const (
	RepairPending RepairStatus = "未查修"
	RepairDone    RepairStatus = "已查修"
)

// ParseRepairStatus 接受中文状态或 pending/done；空字符串表示不过滤
func ParseRepairStatus(s string) (RepairStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case string(RepairPending), "pending":
		return RepairPending, nil
	case string(RepairDone), "done":
		return RepairDone, nil
	}
	return "", fmt.Errorf("unknown repair status %q", s)
}

// RepairPhoto：一组维修前后对照照片的 URL
type RepairPhoto struct {
	Before string `json:"pre,omitempty"`
	After  string `json:"post,omitempty"`
}

// 文档注释：报修单（一盏灯的一次故障通报及其结案）
// 约束：ReportID 由存储分配且递增；Status 只能从未查修变为已查修；RepairedOn 为 yyyy/mm/dd，
// 仅在结案后有值。报修单不改变现况表，也不写入坐标历史。
type RepairReport struct {
	ReportID   int64         `json:"reportId"`
	LightID    string        `json:"lightId"`
	ReportedAt string        `json:"reportedAt"`
	Status     RepairStatus  `json:"status"`
	Fault      string        `json:"fault"`
	RepairedOn string        `json:"repairedOn,omitempty"`
	RepairNote string        `json:"repairNote,omitempty"`
	Photos     []RepairPhoto `json:"photos,omitempty"`
	CreatedAt  time.Time     `json:"-"`
}

// Pending 是否仍待查修
func (r RepairReport) Pending() bool { return r.Status == RepairPending }

// RepairDate 把 yyyy-mm-dd 或 yyyy/mm/dd 正规化为 yyyy/mm/dd
func RepairDate(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", "/")
	t, err := time.Parse("2006/1/2", s)
	if err != nil {
		return "", fmt.Errorf("repair date %q must be yyyy-mm-dd", s)
	}
	return t.Format("2006/01/02"), nil
}

// RepairState：某盏灯的报修摘要（供列表与单灯接口合并）
type RepairState struct {
	Unrepaired bool   `json:"unrepaired"`
	Fault      string `json:"fault,omitempty"`
	ReportedAt string `json:"reportedAt,omitempty"`
}

// 文档注释：按编号汇总报修单
// 约束：有任一未查修单即为 Unrepaired；Fault 取最后一张单的故障情形（不论状态）；
// ReportedAt 取最后一张未查修单的通报时间。reports 须按 ReportID 升序。
func SummarizeRepairs(reports []RepairReport) map[string]RepairState {
	out := make(map[string]RepairState, len(reports))
	for _, r := range reports {
		id := CleanID(r.LightID)
		st := out[id]
		st.Fault = r.Fault
		if r.Pending() {
			st.Unrepaired = true
			st.ReportedAt = r.ReportedAt
		}
		out[id] = st
	}
	return out
}
