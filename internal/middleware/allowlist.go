package middleware

import (
	"net"
	"net/http"
	"strings"

	"streetlight-api/internal/logger"
)

// 文档注释：写入白名单（IP/CIDR）
// 背景：变更接口只对公所内网与巡检 VPN 网段开放；查询接口不受限制，由路由层决定挂载位置。
// 约束：支持 IPv4/IPv6 CIDR；列表为空视为不启用；真实来源 IP 以 RemoteAddr 为准，
// 如部署在反向代理后，可通过 realIPHeader 指定上游头部（取首个有效 IP）。
type AllowList struct {
	allowIPs     map[string]struct{}
	allowCIDRs   []*net.IPNet
	realIPHeader string
}

// NewAllowList 由配置构造；无法解析的条目忽略并告警
func NewAllowList(entries []string, allowLocal bool, realIPHeader string) *AllowList {
	a := &AllowList{allowIPs: map[string]struct{}{}, realIPHeader: strings.TrimSpace(realIPHeader)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if _, n, err := net.ParseCIDR(e); err == nil {
				a.allowCIDRs = append(a.allowCIDRs, n)
				continue
			}
		} else if ip := net.ParseIP(e); ip != nil {
			a.allowIPs[ip.String()] = struct{}{}
			continue
		}
		logger.L().Warn("allowlist_entry_invalid", "entry", e)
	}
	if allowLocal && a.Enabled() {
		a.allowIPs["127.0.0.1"] = struct{}{}
		a.allowIPs["::1"] = struct{}{}
	}
	return a
}

// Enabled：配置了任何条目才启用
func (a *AllowList) Enabled() bool { return len(a.allowIPs) > 0 || len(a.allowCIDRs) > 0 }

func (a *AllowList) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if _, ok := a.allowIPs[ip.String()]; ok {
		return true
	}
	for _, n := range a.allowCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP 解析请求来源 IP；优先指定头的首个有效 IP
func (a *AllowList) ClientIP(r *http.Request) string {
	if a.realIPHeader != "" {
		if raw := r.Header.Get(a.realIPHeader); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	return RemoteIP(r)
}

// RemoteIP 取 RemoteAddr 的主机部分
func RemoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

func (a *AllowList) Wrap(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := a.ClientIP(r)
		if a.Allowed(net.ParseIP(raw)) {
			next.ServeHTTP(w, r)
			return
		}
		logger.L().Info("allowlist_block", "ip", raw, "path", r.URL.Path)
		writeError(w, http.StatusForbidden, "Forbidden", "writes are restricted to trusted networks")
	})
}
