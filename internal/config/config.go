// 包 config：服务运行参数（环境变量 + 默认值）
// 背景：连接串类参数（PG_*、REDIS_*、MINIO_*、NATS_URL）由 utils 读取；此处只收口业务开关。
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr    string
	APIBase string

	// Store：postgres | memory
	Store      string
	SeedSource string

	VillageBoundaries string
	VillageRegistry   string
	VillageNameProps  []string
	ResolveCacheSize  int
	ResolveCacheTTL   time.Duration
	ResolveRedisTTL   time.Duration
	// VillageReloadHour 每日重新载入边界的整点（台北时间）；-1 停用
	VillageReloadHour int

	// Lock：local | redis
	Lock     string
	LockKey  string
	LockWait time.Duration

	RateLimitEnabled bool
	RateLimitQPS     float64
	RateLimitBurst   int
	WriteAllow       []string
	WriteAllowLocal  bool
	RealIPHeader     string
	AdminToken       string
	CORSOrigins      []string

	WebhookURL     string
	WebhookSecret  string
	NATSSubject    string
	PublishTimeout time.Duration
	Attachments    bool
	MinioBucket    string
	MinioPublicURL string

	HealthInterval time.Duration

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string
}

// LoadDotenv 读取 .env 与 data/env/.env；文件缺失不是错误，已存在的环境变量不被覆盖
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// FromEnv 从进程环境构造配置
func FromEnv() Config { return From(os.Getenv) }

// From 以给定的取值函数构造配置；无法解析的数值回退到默认值
func From(get func(string) string) Config {
	e := env{get: get}
	return Config{
		Addr:    e.str("ADDR", ":8080"),
		APIBase: strings.TrimRight(e.str("API_BASE", "/api"), "/"),

		Store:      strings.ToLower(e.str("STORE", "postgres")),
		SeedSource: e.str("SEED_SOURCE", ""),

		VillageBoundaries: e.str("VILLAGE_BOUNDARIES", filepath.Join("data", "villages")),
		VillageRegistry:   e.str("VILLAGE_REGISTRY", filepath.Join("data", "villages.yaml")),
		VillageNameProps:  e.list("VILLAGE_NAME_PROPS"),
		ResolveCacheSize:  e.intv("RESOLVE_CACHE_SIZE", 4096),
		ResolveCacheTTL:   e.dur("RESOLVE_CACHE_TTL", 10*time.Minute),
		ResolveRedisTTL:   e.dur("RESOLVE_REDIS_TTL", 24*time.Hour),
		VillageReloadHour: e.hour("VILLAGE_RELOAD_HOUR", -1),

		Lock:     strings.ToLower(e.str("LOCK_BACKEND", "local")),
		LockKey:  e.str("LOCK_KEY", "streetlight:writer"),
		LockWait: e.dur("LOCK_WAIT", 30*time.Second),

		RateLimitEnabled: e.boolv("RATE_LIMIT_ENABLED", true),
		RateLimitQPS:     e.floatv("RATE_LIMIT_QPS", 20),
		RateLimitBurst:   e.intv("RATE_LIMIT_BURST", 40),
		WriteAllow:       e.list("WRITE_ALLOW"),
		WriteAllowLocal:  e.boolv("WRITE_ALLOW_LOCAL", true),
		RealIPHeader:     e.str("REAL_IP_HEADER", ""),
		AdminToken:       e.str("ADMIN_TOKEN", ""),
		CORSOrigins:      e.list("CORS_ORIGINS"),

		WebhookURL:     e.str("WEBHOOK_URL", ""),
		WebhookSecret:  e.str("WEBHOOK_SECRET", ""),
		NATSSubject:    e.str("NATS_SUBJECT", "streetlight.mutations"),
		PublishTimeout: e.dur("PUBLISH_TIMEOUT", 5*time.Second),
		Attachments:    e.boolv("ATTACHMENTS_ENABLE", false),
		MinioBucket:    e.str("MINIO_BUCKET", "streetlight"),
		MinioPublicURL: e.str("MINIO_PUBLIC_URL", ""),

		HealthInterval: e.dur("HEALTH_INTERVAL", 30*time.Second),

		TLSEnable:   e.boolv("TLS_ENABLE", false),
		TLSCertPath: e.str("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:  e.str("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
}

type env struct{ get func(string) string }

func (e env) str(k, def string) string {
	if v := strings.TrimSpace(e.get(k)); v != "" {
		return v
	}
	return def
}

func (e env) intv(k string, def int) int {
	if n, err := strconv.Atoi(e.str(k, "")); err == nil && n > 0 {
		return n
	}
	return def
}

// hour 接受 0..23，其余回退默认值
func (e env) hour(k string, def int) int {
	if n, err := strconv.Atoi(e.str(k, "")); err == nil && n >= 0 && n <= 23 {
		return n
	}
	return def
}

func (e env) floatv(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(e.str(k, ""), 64); err == nil && f > 0 {
		return f
	}
	return def
}

func (e env) boolv(k string, def bool) bool {
	if b, err := strconv.ParseBool(e.str(k, "")); err == nil {
		return b
	}
	return def
}

// dur 同时接受 Go 时长（"750ms"）与整数秒
func (e env) dur(k string, def time.Duration) time.Duration {
	s := e.str(k, "")
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func (e env) list(k string) []string {
	var out []string
	for _, p := range strings.Split(e.get(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
