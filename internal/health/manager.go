// 包 health：依赖检查管理（PostgreSQL、Redis、NATS、MinIO、Webhook）与周期心跳
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
)

// Checker：单个依赖的可用性检查
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc：以函数适配 Checker
type CheckFunc struct {
	N string
	F func(ctx context.Context) error
	// Optional 为 true 时失败不影响整体 ready
	Optional bool
}

func (p CheckFunc) Name() string                    { return p.N }
func (p CheckFunc) Check(ctx context.Context) error { return p.F(ctx) }

type status struct {
	healthy  bool
	optional bool
	last     time.Time
	err      string
}

// Status：对外暴露的检查状态
type Status struct {
	Name     string    `json:"name"`
	Healthy  bool      `json:"healthy"`
	Optional bool      `json:"optional,omitempty"`
	Last     time.Time `json:"last"`
	Error    string    `json:"error,omitempty"`
}

// 文档注释：依赖检查管理器
// 背景：注册依赖检查，周期性并发执行并缓存结果，/healthz 直接读取缓存，避免每次请求打到依赖。
// 约束：心跳周期默认 10s；单次检查超时 3s；注册后立即视为健康直至首次检查完成；线程安全读写。
type Manager struct {
	mu         sync.RWMutex
	ps         map[string]Checker
	st         map[string]status
	hbInterval time.Duration
	timeout    time.Duration
}

func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Manager{ps: make(map[string]Checker), st: make(map[string]status), hbInterval: interval, timeout: 3 * time.Second}
}

// Register 注册依赖检查
func (m *Manager) Register(p Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	optional := false
	if pf, ok := p.(CheckFunc); ok {
		optional = pf.Optional
	}
	m.ps[p.Name()] = p
	m.st[p.Name()] = status{healthy: true, optional: optional, last: time.Now()}
	logger.L().Info("check_registered", "name", p.Name(), "optional", optional)
}

// Start 启动心跳循环，ctx 取消时停止
func (m *Manager) Start(ctx context.Context) {
	t := time.NewTicker(m.hbInterval)
	go func() {
		defer t.Stop()
		m.CheckNow(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// CheckNow 并发执行一次全部检查并更新状态
func (m *Manager) CheckNow(ctx context.Context) {
	m.mu.RLock()
	checks := make([]Checker, 0, len(m.ps))
	for _, p := range m.ps {
		checks = append(checks, p)
	}
	m.mu.RUnlock()

	results := make([]error, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.timeout)
			defer cancel()
			start := time.Now()
			results[i] = p.Check(cctx)
			metrics.DependencyCheckMs.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Milliseconds()))
			// 单项失败只记入状态，不中断其它检查
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range checks {
		s := m.st[p.Name()]
		s.last = now
		if err := results[i]; err != nil {
			s.healthy, s.err = false, err.Error()
			metrics.DependencyUp.WithLabelValues(p.Name()).Set(0)
			logger.L().Warn("check_fail", "name", p.Name(), "err", err)
		} else {
			s.healthy, s.err = true, ""
			metrics.DependencyUp.WithLabelValues(p.Name()).Set(1)
			logger.L().Debug("check_ok", "name", p.Name())
		}
		m.st[p.Name()] = s
	}
}

// Snapshot 返回按名称排序的状态与整体 ready（必需依赖全部健康）
func (m *Manager) Snapshot() ([]Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.st))
	ready := true
	for name, s := range m.st {
		out = append(out, Status{Name: name, Healthy: s.healthy, Optional: s.optional, Last: s.last, Error: s.err})
		if !s.healthy && !s.optional {
			ready = false
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, ready
}
