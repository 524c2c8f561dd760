package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminHeader：管理令牌请求头
const AdminHeader = "x-admin-token"

// 文档注释：管理接口令牌校验
// 背景：重新载入村里边界等运维操作不对巡检人员开放；令牌可配置为 bcrypt 哈希（推荐）或明文。
// 约束：未配置令牌时管理接口一律 403；明文比较使用常数时间比较。
type AdminAuth struct {
	hash  []byte
	plain []byte
}

func NewAdminAuth(token string) *AdminAuth {
	token = strings.TrimSpace(token)
	a := &AdminAuth{}
	if strings.HasPrefix(token, "$2a$") || strings.HasPrefix(token, "$2b$") || strings.HasPrefix(token, "$2y$") {
		a.hash = []byte(token)
	} else if token != "" {
		a.plain = []byte(token)
	}
	return a
}

func (a *AdminAuth) Configured() bool { return len(a.hash) > 0 || len(a.plain) > 0 }

// Check 校验提交的令牌
func (a *AdminAuth) Check(got string) bool {
	if got == "" {
		return false
	}
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(got)) == nil
	}
	if len(a.plain) > 0 {
		return subtle.ConstantTimeCompare(a.plain, []byte(got)) == 1
	}
	return false
}

func (a *AdminAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			writeError(w, http.StatusForbidden, "Forbidden", "admin token not configured")
			return
		}
		if !a.Check(r.Header.Get(AdminHeader)) {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
