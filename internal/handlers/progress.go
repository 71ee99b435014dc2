package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"video_proxy/internal/services"
	"video_proxy/internal/utils"
)

// ProgressHandler 下载进度接口处理器
type ProgressHandler struct {
	progress *services.ProgressService
	cleanup  *services.CleanupService
}

// NewProgressHandler 创建下载进度接口处理器
func NewProgressHandler(progress *services.ProgressService, cleanup *services.CleanupService) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		cleanup:  cleanup,
	}
}

// HandleDownloadAPI 分发 /download/ 下的全部接口。
// 路径格式:
//
//	POST   /download/create-task?url=&totalSize=
//	GET    /download/progress/{taskId}
//	GET    /download/progress/batch?taskIds=a,b,c
//	DELETE /download/cancel/{taskId}
//	DELETE /download/remove/{taskId}
//	POST   /download/cleanup
func (h *ProgressHandler) HandleDownloadAPI(w http.ResponseWriter, r *http.Request) {
	if handleCORSPreflight(w, r) {
		return
	}

	path := r.URL.Path

	switch {
	case path == "/download/create-task":
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCreateTask(w, r)

	case path == "/download/progress/batch":
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleBatchProgress(w, r)

	case strings.HasPrefix(path, "/download/progress/"):
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleGetProgress(w, r, strings.TrimPrefix(path, "/download/progress/"))

	case strings.HasPrefix(path, "/download/cancel/"):
		if r.Method != http.MethodDelete {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCancel(w, strings.TrimPrefix(path, "/download/cancel/"))

	case strings.HasPrefix(path, "/download/remove/"):
		if r.Method != http.MethodDelete {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleRemove(w, strings.TrimPrefix(path, "/download/remove/"))

	case path == "/download/cleanup":
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCleanup(w)

	default:
		sendError(w, http.StatusNotFound, "接口不存在")
	}
}

// handleCreateTask 预注册下载任务，返回服务端生成的任务ID
func (h *ProgressHandler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	videoURL := r.FormValue("url")
	if videoURL == "" {
		sendError(w, http.StatusBadRequest, "视频URL不能为空")
		return
	}

	totalSize := int64(0)
	if sizeStr := r.FormValue("totalSize"); sizeStr != "" {
		if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil && val > 0 {
			totalSize = val
		}
	}

	taskID := uuid.New().String()
	h.progress.CreateTask(taskID, videoURL, totalSize)
	sendSuccess(w, "任务创建成功", taskID)
}

// handleGetProgress 查询单个任务的完整进度视图
func (h *ProgressHandler) handleGetProgress(w http.ResponseWriter, r *http.Request, taskID string) {
	if taskID == "" {
		sendError(w, http.StatusBadRequest, "任务ID不能为空")
		return
	}

	snapshot := h.progress.Get(taskID)
	if snapshot == nil {
		sendError(w, http.StatusNotFound, "任务不存在")
		return
	}
	sendSuccess(w, "获取成功", snapshot)
}

// handleBatchProgress 批量查询任务进度（前端轮询多个任务用），
// 不存在的任务ID直接从结果中省略
func (h *ProgressHandler) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	taskIDsParam := r.URL.Query().Get("taskIds")
	if taskIDsParam == "" {
		sendError(w, http.StatusBadRequest, "taskIds不能为空")
		return
	}

	taskIDs := strings.Split(taskIDsParam, ",")
	for i := range taskIDs {
		taskIDs[i] = strings.TrimSpace(taskIDs[i])
	}

	sendSuccess(w, "获取成功", h.progress.GetBatch(taskIDs))
}

// handleCancel 取消下载任务
func (h *ProgressHandler) handleCancel(w http.ResponseWriter, taskID string) {
	if taskID == "" {
		sendError(w, http.StatusBadRequest, "任务ID不能为空")
		return
	}
	h.progress.Cancel(taskID)
	sendSuccess(w, "取消成功", taskID)
}

// handleRemove 无条件移除下载任务
func (h *ProgressHandler) handleRemove(w http.ResponseWriter, taskID string) {
	if taskID == "" {
		sendError(w, http.StatusBadRequest, "任务ID不能为空")
		return
	}
	h.progress.Remove(taskID)
	sendSuccess(w, "移除成功", taskID)
}

// handleCleanup 手动触发一次过期任务清理
func (h *ProgressHandler) handleCleanup(w http.ResponseWriter) {
	result := h.cleanup.RunOnce()
	utils.Info("手动清理过期任务: %d 个", result.TasksRemoved)
	sendSuccess(w, "清理完成", result)
}
