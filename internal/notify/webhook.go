// 包 notify：对账提交后的变更事件发布（NATS 主题与 HTTP Webhook）
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"streetlight-api/internal/reconcile"
)

// 文档注释：HTTP Webhook 发布者
// 背景：为巡检群组机器人等外部接收方提供简单的推送契约：POST JSON 事件到固定地址。
// 约束：配置 secret 时附带 X-Signature（HMAC-SHA256 十六进制）；非 2xx 视为失败；超时 5s；Ping 探测 endpoint 可达性。
type Webhook struct {
	endpoint string
	secret   []byte
	client   *http.Client
}

func NewWebhook(endpoint, secret string) *Webhook {
	return &Webhook{endpoint: endpoint, secret: []byte(secret), client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, ev reconcile.MutationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", ev.EventID)
	if len(w.secret) > 0 {
		req.Header.Set("X-Signature", Sign(w.secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Ping：HEAD 请求探测接收方可达（任何响应都视为可达）
func (w *Webhook) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Sign 计算请求体签名
func Sign(secret, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
