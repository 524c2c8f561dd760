// 包 utils：外部依赖（PostgreSQL、Redis、MinIO、NATS）的连接工具，统一环境变量读取
package utils

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"streetlight-api/internal/logger"
)

// AppName 作为 application_name / Redis CLIENT SETNAME 上报，便于在 pg_stat_activity 中区分连接来源
const AppName = "streetlight-api"

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// 文档注释：由 PG_* 组装 DSN
// 约束：PG_DSN 存在时原样返回；用户名与密码经 URL 转义；缺省连库 streetlight 并附带 application_name。
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(envOr("PG_HOST", "localhost"), envOr("PG_PORT", "5432")),
		Path:   "/" + envOr("PG_DB", "streetlight"),
	}
	user := envOr("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", envOr("PG_SSLMODE", "disable"))
	q.Set("application_name", AppName)
	u.RawQuery = q.Encode()
	return u.String()
}

// PoolSettings：连接池参数
type PoolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// 文档注释：读取 PG_MAX_OPEN_CONNS / PG_MAX_IDLE_CONNS / PG_CONN_MAX_LIFETIME
// 背景：写入只有单一写者（对账器持锁），读接口也只是列表与历史，连接池不需要很大。
// 约束：解析失败或非正值时保留默认 16/8/30m；空闲数不超过最大连接数。
func PoolSettingsFromEnv() PoolSettings {
	p := PoolSettings{MaxOpen: 16, MaxIdle: 8, MaxLifetime: 30 * time.Minute}
	if n, err := strconv.Atoi(os.Getenv("PG_MAX_OPEN_CONNS")); err == nil && n > 0 {
		p.MaxOpen = n
	}
	if n, err := strconv.Atoi(os.Getenv("PG_MAX_IDLE_CONNS")); err == nil && n >= 0 {
		p.MaxIdle = n
	}
	if d, err := time.ParseDuration(os.Getenv("PG_CONN_MAX_LIFETIME")); err == nil && d > 0 {
		p.MaxLifetime = d
	}
	if p.MaxIdle > p.MaxOpen {
		p.MaxIdle = p.MaxOpen
	}
	return p
}

// Apply 把连接池参数写入 db
func (p PoolSettings) Apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
}

// 文档注释：按环境变量打开连接池并做一次启动检查
// 约束：Ping 失败只记录日志不返回错误，数据库稍后可用时由健康检查反映；Ping 最多等待 5s。
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	pool := PoolSettingsFromEnv()
	pool.Apply(db)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		logger.L().Error("db_ping_error", "err", err)
	} else {
		logger.L().Info("db_ping_ok", "max_open", pool.MaxOpen, "max_idle", pool.MaxIdle)
	}
	return db, nil
}
