// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"streetlight-api/internal/api"
	"streetlight-api/internal/attachment"
	"streetlight-api/internal/config"
	"streetlight-api/internal/errkind"
	"streetlight-api/internal/health"
	"streetlight-api/internal/ingest"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/logger"
	"streetlight-api/internal/middleware"
	"streetlight-api/internal/migrate"
	"streetlight-api/internal/nearby"
	"streetlight-api/internal/notify"
	"streetlight-api/internal/reconcile"
	"streetlight-api/internal/store"
	"streetlight-api/internal/store/memstore"
	"streetlight-api/internal/utils"
	"streetlight-api/internal/version"
	"streetlight-api/internal/village"
)

func main() {
	config.LoadDotenv()
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	cfg := config.FromEnv()
	l.Debug("config_loaded", "api_base", cfg.APIBase, "store", cfg.Store, "lock", cfg.Lock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hm := health.NewManager(cfg.HealthInterval)

	st, err := openStore(ctx, cfg)
	if err != nil {
		l.Error("store_open_error", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	hm.Register(health.CheckFunc{N: "store", F: st.Ping})

	// 背景：初始清单只在现况表为空时导入一次，之后的变更都经过对账器
	if cfg.SeedSource != "" {
		if n, err := ingest.EnsureSeeded(ctx, st, cfg.SeedSource); err != nil {
			l.Error("seed_error", "source", cfg.SeedSource, "err", err)
		} else if n > 0 {
			l.Info("seed_imported", "rows", n)
		}
	}

	var villages village.Dynamic
	reloadVillages := func(context.Context) (int, error) {
		r, err := village.LoadResolver(cfg.VillageRegistry, cfg.VillageBoundaries, cfg.VillageNameProps, cfg.ResolveCacheSize, cfg.ResolveCacheTTL)
		if err != nil {
			return 0, errkind.StorageUnavailable.Wrap(err, "load village boundaries")
		}
		villages.Set(r)
		l.Info("village_resolver_set", "regions", len(r.Regions()), "version", r.Version())
		return len(r.Regions()), nil
	}
	if _, err := reloadVillages(ctx); err != nil {
		// 边界缺失时仍可服务：只用登记表，所有坐标落入兜底区域
		l.Error("village_load_error", "err", err)
		reg, rerr := village.LoadRegistry(cfg.VillageRegistry)
		if rerr != nil {
			l.Error("village_registry_error", "err", rerr)
			os.Exit(1)
		}
		villages.Set(village.NewResolver(nil, reg, cfg.ResolveCacheSize, cfg.ResolveCacheTTL))
	}

	village.StartNightlyReload(ctx, lights.Taipei(), cfg.VillageReloadHour, reloadVillages)

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		hm.Register(health.CheckFunc{
			N:        "redis",
			F:        func(ctx context.Context) error { return rc.Ping(ctx).Err() },
			Optional: cfg.Lock != "redis",
		})
	}

	locker := buildLocker(cfg, rc)
	publisher, nc := buildPublisher(cfg, hm)
	if nc != nil {
		defer nc.Drain()
	}
	attachments := buildAttachments(ctx, cfg, hm)

	snap := nearby.NewSnapshot(st.ListLights)
	rec := reconcile.New(reconcile.Deps{
		Store:       st,
		Locker:      locker,
		Villages:    &villages,
		Attachments: attachments,
		Publisher:   publisher,
		OnCommit:    []func(){snap.Invalidate},
		LockWait:    cfg.LockWait,
	})

	hm.Start(ctx)

	apiRoutes := api.BuildRoutes(api.Deps{
		Store:          st,
		Reconciler:     rec,
		Villages:       &villages,
		Nearby:         snap,
		Redis:          rc,
		ResolveTTL:     cfg.ResolveRedisTTL,
		Health:         hm,
		ReloadVillages: reloadVillages,
		WriteGuard:     middleware.NewAllowList(cfg.WriteAllow, cfg.WriteAllowLocal, cfg.RealIPHeader).Wrap,
		AdminGuard:     middleware.NewAdminAuth(cfg.AdminToken).Wrap,
		Logger:         l,
	})

	root := chi.NewRouter()
	root.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.RateLimitEnabled {
		al := middleware.NewAllowList(nil, false, cfg.RealIPHeader)
		root.Use(middleware.NewRateLimiter(cfg.RateLimitQPS, cfg.RateLimitBurst, al.ClientIP).Wrap)
		l.Info("rate_limit_enabled", "qps", cfg.RateLimitQPS, "burst", cfg.RateLimitBurst)
	}
	base := cfg.APIBase
	if base == "" {
		base = "/"
	}
	root.Mount(base, apiRoutes)
	root.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.Commit + "\n"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "streetlight.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}

// openStore 按 STORE 选择存储；postgres 会在启动时补齐表结构
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store == "memory" {
		logger.L().Warn("store_memory", "note", "data is lost on restart")
		return memstore.New(), nil
	}
	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store.AttachDB(db), nil
}

func buildLocker(cfg config.Config, rc *redis.Client) reconcile.Locker {
	if cfg.Lock == "redis" {
		if rc != nil {
			// 租约取等待时间的两倍，足以覆盖一次对账
			return reconcile.NewRedisLocker(rc, cfg.LockKey, 2*cfg.LockWait)
		}
		logger.L().Warn("lock_redis_unavailable", "fallback", "local")
	}
	return reconcile.NewLocalLocker()
}

// buildPublisher 组装事件发布端；没有任何发布端时返回 nil
func buildPublisher(cfg config.Config, hm *health.Manager) (reconcile.Publisher, *nats.Conn) {
	var sinks []notify.Sink
	if cfg.WebhookURL != "" {
		wh := notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret)
		sinks = append(sinks, wh)
		hm.Register(health.CheckFunc{N: "webhook", F: wh.Ping, Optional: true})
	}
	nc, err := utils.OpenNATSFromEnv()
	if err != nil {
		logger.L().Error("nats_connect_error", "err", err)
	}
	if nc != nil {
		ns := notify.NewNATS(nc, cfg.NATSSubject)
		sinks = append(sinks, ns)
		hm.Register(health.CheckFunc{N: "nats", F: ns.Ping, Optional: true})
		logger.L().Info("nats_connected", "url", nc.ConnectedUrl())
	}
	fan := notify.NewFanout(cfg.PublishTimeout, sinks...)
	if fan.Len() == 0 {
		logger.L().Info("events_disabled")
		return nil, nc
	}
	return fan, nc
}

// buildAttachments 附件存储；未启用或连接失败时返回 nil（附件会被忽略并记录日志）
func buildAttachments(ctx context.Context, cfg config.Config, hm *health.Manager) reconcile.AttachmentStore {
	if !cfg.Attachments {
		return nil
	}
	mc, err := utils.OpenMinioFromEnv()
	if err != nil || mc == nil {
		logger.L().Error("minio_open_error", "err", err)
		return nil
	}
	ms := attachment.NewMinioStore(mc, cfg.MinioBucket, cfg.MinioPublicURL)
	if err := ms.EnsureBucket(ctx); err != nil {
		logger.L().Error("minio_bucket_error", "err", err)
	}
	hm.Register(health.CheckFunc{N: "minio", F: ms.Ping, Optional: true})
	return ms
}
