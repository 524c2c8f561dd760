package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
	"streetlight-api/internal/reconcile"
)

// Sink：具名发布端
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev reconcile.MutationEvent) error
}

// 文档注释：多端扇出
// 背景：同一事件依次投递到所有已配置的发布端；单端失败不影响其它端。
// 约束：每端独立超时；返回所有失败的合并错误，由对账器记录日志。
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
}

func NewFanout(timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{sinks: sinks, timeout: timeout}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Publish(ctx context.Context, ev reconcile.MutationEvent) error {
	var errs []error
	for _, s := range f.sinks {
		cctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Publish(cctx, ev)
		cancel()
		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(s.Name(), "fail").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(s.Name(), "ok").Inc()
		logger.L().Debug("event_published", "sink", s.Name(), "action", ev.Action, "event_id", ev.EventID)
	}
	return errors.Join(errs...)
}
