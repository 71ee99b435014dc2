package handlers

import (
	"encoding/json"
	"net/http"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// sendJSON 发送JSON响应
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	setCORSHeaders(w)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sendSuccess 发送成功响应
func sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// sendError 发送错误响应
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, APIResponse{Success: false, Error: message})
}

// setCORSHeaders 设置跨域响应头
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

// handleCORSPreflight 处理CORS预检请求，已处理时返回 true
func handleCORSPreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}
