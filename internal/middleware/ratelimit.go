// 包 middleware：入口限流、写入白名单、管理令牌与跨域
package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"streetlight-api/internal/logger"
)

// 文档注释：按来源 IP 的令牌桶限流中间件
// 背景：巡检 App 在弱网下会连续重送，按 IP 限速避免单一装置占满写锁等待队列。
// 约束：不做排队，超出即返回 429；闲置超过 idleTTL 的桶在下次清理时回收。
type RateLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	buckets  map[string]*bucket
	idleTTL  time.Duration
	lastGC   time.Time
	clientIP func(*http.Request) string
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(qps float64, burst int, clientIP func(*http.Request) string) *RateLimiter {
	if burst <= 0 {
		burst = int(qps) + 1
	}
	if clientIP == nil {
		clientIP = RemoteIP
	}
	return &RateLimiter{
		perSec:   rate.Limit(qps),
		burst:    burst,
		buckets:  map[string]*bucket{},
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
		clientIP: clientIP,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	if now.Sub(rl.lastGC) > rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) > rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastGC = now
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.perSec, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.clientIP(r)
		if !rl.allow(ip) {
			logger.L().Debug("rate_limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError 输出与业务接口一致的错误结构
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "kind": kind, "message": msg})
}
