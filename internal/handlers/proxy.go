package handlers

import (
	"net/http"

	"video_proxy/internal/services"
	"video_proxy/internal/utils"
)

// ProxyHandler 视频代理接口处理器
type ProxyHandler struct {
	proxy    *services.ProxyService
	prefetch *services.PrefetchService
}

// NewProxyHandler 创建视频代理接口处理器
func NewProxyHandler(proxy *services.ProxyService, prefetch *services.PrefetchService) *ProxyHandler {
	return &ProxyHandler{
		proxy:    proxy,
		prefetch: prefetch,
	}
}

// HandleProxyAPI 分发 /proxy/ 下的全部接口。
// 路径格式:
//
//	GET|POST /proxy/download?url=&taskId=
//	GET      /proxy/info?url=
//	GET      /proxy/async-download?url=
func (h *ProxyHandler) HandleProxyAPI(w http.ResponseWriter, r *http.Request) {
	if handleCORSPreflight(w, r) {
		return
	}

	switch r.URL.Path {
	case "/proxy/download":
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleDownload(w, r)

	case "/proxy/info":
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleInfo(w, r)

	case "/proxy/async-download":
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleAsyncDownload(w, r)

	default:
		sendError(w, http.StatusNotFound, "接口不存在")
	}
}

// handleDownload 代理下载视频（支持Range请求与进度跟踪）
func (h *ProxyHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	videoURL := r.FormValue("url")
	if videoURL == "" {
		// 流式接口不走JSON包装，直接返回状态码
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	taskID := r.FormValue("taskId")
	h.proxy.Stream(w, r, videoURL, taskID)
}

// handleInfo 获取视频元数据（不下载正文）
func (h *ProxyHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	videoURL := r.URL.Query().Get("url")
	if videoURL == "" {
		sendError(w, http.StatusBadRequest, "视频URL不能为空")
		return
	}

	info, err := h.proxy.Describe(videoURL)
	if err != nil {
		utils.Error("获取视频信息失败: %v", err)
		sendError(w, http.StatusBadGateway, "获取视频信息失败: "+err.Error())
		return
	}
	sendSuccess(w, "获取成功", info)
}

// handleAsyncDownload 提交异步预加载作业（大文件预热用）
func (h *ProxyHandler) handleAsyncDownload(w http.ResponseWriter, r *http.Request) {
	videoURL := r.URL.Query().Get("url")
	if videoURL == "" {
		sendError(w, http.StatusBadRequest, "视频URL不能为空")
		return
	}

	jobID := h.prefetch.Enqueue(videoURL)
	if jobID == "" {
		sendError(w, http.StatusServiceUnavailable, "预加载队列繁忙，请稍后重试")
		return
	}
	sendSuccess(w, "异步下载已启动", jobID)
}
