package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/logger"
)

const statusSuccess = "success"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误分类输出状态码；未分类错误不向外暴露细节
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errkind.KindOf(err)
	status := errkind.HTTPStatus(err)
	msg := "internal error"
	var e *errkind.Error
	if errors.As(err, &e) {
		msg = e.Message
		if msg == "" {
			msg = e.Kind
		}
	}
	if status >= http.StatusInternalServerError {
		logger.L().Error("api_error", "path", r.URL.Path, "kind", kind, "err", err)
	}
	writeJSON(w, status, errorResponse{Status: "error", Kind: kind, Message: msg})
}
