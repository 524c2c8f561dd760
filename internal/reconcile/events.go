package reconcile

import (
	"context"
	"time"

	"streetlight-api/internal/attachment"
	"streetlight-api/internal/lights"
)

// MutationEvent：提交成功后对外发布的变更事件
type MutationEvent struct {
	EventID string               `json:"eventId"`
	Action  string               `json:"action"`
	LightID string               `json:"lightId,omitempty"`
	Removed int                  `json:"removed,omitempty"`
	Entry   *lights.HistoryEntry `json:"entry,omitempty"`
	Report  *lights.RepairReport `json:"report,omitempty"`
	At      time.Time            `json:"at"`
}

// Publisher：事件发布者（NATS、Webhook 等）
// 约束：发布在事务提交之后进行，失败只记录日志，不影响变更结果
type Publisher interface {
	Publish(ctx context.Context, ev MutationEvent) error
}

// AttachmentStore：附件存储
type AttachmentStore interface {
	Put(ctx context.Context, p *attachment.Payload) (string, error)
	Remove(ctx context.Context, url string) error
}

// VillageCodes：村里代码登记查询
type VillageCodes interface {
	KnownCode(code string) bool
}
