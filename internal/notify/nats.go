package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"streetlight-api/internal/reconcile"
)

// DefaultSubjectPrefix：事件主题前缀，完整主题为 <prefix>.<action>
const DefaultSubjectPrefix = "streetlight.mutations"

// NATS：以核心 NATS 发布事件（至多一次投递）
type NATS struct {
	conn   *nats.Conn
	prefix string
}

func NewNATS(conn *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix}
}

func (n *NATS) Name() string { return "nats" }

// Subject 返回事件动作对应的主题
func (n *NATS) Subject(action string) string { return n.prefix + "." + action }

func (n *NATS) Publish(_ context.Context, ev reconcile.MutationEvent) error {
	if n.conn == nil || n.conn.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.conn.Publish(n.Subject(ev.Action), payload)
}

func (n *NATS) Ping(context.Context) error {
	if n.conn == nil || !n.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}
