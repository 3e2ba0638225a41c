package respond

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorBody 统一错误响应
type ErrorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
}

// JSON 写 JSON 响应
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error 写统一格式的错误响应
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{
		Success:    false,
		Error:      message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
