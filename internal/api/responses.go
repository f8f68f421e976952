package api

import (
	"encoding/json"
	"net/http"

	applog "queryweave/internal/platform/log"
)

// envelope 统一 JSON 响应体。code 与 HTTP 状态一致，
// 成功时 message 固定为 "ok"，data 携带业务载荷。
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&envelope{
		Code:    status,
		Message: "ok",
		Data:    data,
	}); err != nil {
		applog.Warn("[API] Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&envelope{
		Code:    status,
		Message: message,
	}); err != nil {
		applog.Warn("[API] Failed to encode error response", "error", err)
	}
}
