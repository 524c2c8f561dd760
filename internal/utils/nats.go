package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"streetlight-api/internal/logger"
)

// OpenNATSFromEnv：连接 NATS_URL；未配置时返回 nil, nil
// 约束：断线后无限重连，断线期间发布失败由事件扇出记录，不影响写入结果
func OpenNATSFromEnv() (*nats.Conn, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("streetlight-api"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.L().Warn("nats_disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.L().Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
