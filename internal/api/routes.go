// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"streetlight-api/internal/health"
	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
	"streetlight-api/internal/nearby"
	"streetlight-api/internal/reconcile"
	"streetlight-api/internal/store"
	"streetlight-api/internal/village"
)

// Deps：路由依赖；Store/Reconciler/Villages 必填
type Deps struct {
	Store      store.Reader
	Reconciler *reconcile.Reconciler
	Villages   *village.Dynamic
	// Nearby 最近邻快照；应同时登记到对账器的 OnCommit 以便提交后失效
	Nearby     *nearby.Snapshot
	Redis      *redis.Client
	ResolveTTL time.Duration
	Health     *health.Manager
	// ReloadVillages 重新读取边界与登记表并替换解析器，返回区域数
	ReloadVillages func(ctx context.Context) (int, error)
	// WriteGuard 包在变更接口外（写入白名单）
	WriteGuard func(http.Handler) http.Handler
	// AdminGuard 包在管理接口外（管理令牌）
	AdminGuard func(http.Handler) http.Handler
	Logger     *slog.Logger
}

type server struct {
	d        Deps
	resolver *villageResolver
	near     *nearby.Snapshot
}

// 文档注释：构建 API 路由
// 背景：主入口把返回的路由挂载到 API_BASE 之下；访问日志在路由内部挂载，才能取到路由模板作为指标标签。
func BuildRoutes(d Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = logger.L()
	}
	pass := func(h http.Handler) http.Handler { return h }
	if d.WriteGuard == nil {
		d.WriteGuard = pass
	}
	if d.AdminGuard == nil {
		d.AdminGuard = pass
	}
	s := &server{
		d:        d,
		resolver: &villageResolver{rc: d.Redis, villages: d.Villages, ttl: d.ResolveTTL},
		near:     d.Nearby,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(logger.AccessMiddleware(d.Logger))

	r.With(d.WriteGuard).Post("/lights/mutations", s.handleMutation)
	r.Get("/history", s.handleHistory)
	r.Get("/lights", s.handleLights)
	r.Get("/lights/nearest", s.handleNearest)
	r.Get("/lights/{id}", s.handleLight)
	r.Get("/repairs", s.handleRepairs)
	r.Get("/villages", s.handleVillages)
	r.Get("/villages/resolve", s.handleResolve)
	r.Get("/villages/{code}/next-id", s.handleNextID)
	r.With(d.AdminGuard).Post("/admin/reload-villages", s.handleReloadVillages)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}
