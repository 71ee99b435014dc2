package services

import (
	"sync"
	"time"

	"video_proxy/internal/models"
	"video_proxy/internal/utils"
)

// ProgressService 下载进度跟踪服务。
// 进程内共享的任务注册表：代理传输协程写入，轮询接口并发读取，
// 清理协程定期移除过期终态任务。单个任务的状态迁移由任务自身的
// 锁保证原子性，不同任务之间互不阻塞。
type ProgressService struct {
	mu    sync.RWMutex
	tasks map[string]*models.DownloadTask

	sampleInterval time.Duration
	now            func() time.Time
}

// NewProgressService 创建进度跟踪服务
func NewProgressService(sampleInterval time.Duration) *ProgressService {
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	return &ProgressService{
		tasks:          make(map[string]*models.DownloadTask),
		sampleInterval: sampleInterval,
		now:            time.Now,
	}
}

// CreateTask 创建下载任务。
// taskId 已存在时返回已有任务，不会覆盖或产生重复状态。
func (s *ProgressService) CreateTask(taskID, sourceURL string, totalSize int64) *models.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[taskID]; ok {
		return existing
	}

	task := models.NewDownloadTask(taskID, sourceURL, totalSize, s.now())
	s.tasks[taskID] = task
	utils.Info("创建下载任务: %s, URL: %s, 总大小: %d bytes", taskID, sourceURL, totalSize)
	return task
}

// UpdateProgress 更新任务进度；任务不存在或已终态时为空操作
func (s *ProgressService) UpdateProgress(taskID string, downloadedBytes int64) {
	if task := s.lookup(taskID); task != nil {
		task.UpdateProgress(downloadedBytes, s.now(), s.sampleInterval)
	}
}

// SetTotalSize 补记任务总大小（创建时未知、从上游响应头得知后调用）
func (s *ProgressService) SetTotalSize(taskID string, totalSize int64) {
	if task := s.lookup(taskID); task != nil {
		task.SetTotalSize(totalSize)
	}
}

// MarkCompleted 标记任务完成
func (s *ProgressService) MarkCompleted(taskID string) {
	task := s.lookup(taskID)
	if task == nil {
		return
	}
	if task.Complete(s.now()) {
		utils.Info("下载任务完成: %s", taskID)
	}
}

// MarkFailed 标记任务失败
func (s *ProgressService) MarkFailed(taskID, errorMessage string) {
	task := s.lookup(taskID)
	if task == nil {
		return
	}
	if task.Fail(errorMessage, s.now()) {
		utils.Error("下载任务失败: %s, 错误: %s", taskID, errorMessage)
	}
}

// Cancel 取消任务。与传输循环的完成/失败标记存在竞争时，先到的终态生效。
func (s *ProgressService) Cancel(taskID string) {
	task := s.lookup(taskID)
	if task == nil {
		return
	}
	if task.Cancel(s.now()) {
		utils.Info("下载任务已取消: %s", taskID)
	}
}

// IsCancelled 检查任务是否已取消（传输循环的协作式取消信号）
func (s *ProgressService) IsCancelled(taskID string) bool {
	task := s.lookup(taskID)
	return task != nil && task.IsCancelled()
}

// Get 获取任务完整视图，任务不存在返回 nil
func (s *ProgressService) Get(taskID string) *models.TaskSnapshot {
	task := s.lookup(taskID)
	if task == nil {
		return nil
	}
	snapshot := task.Snapshot()
	return &snapshot
}

// GetBatch 批量获取任务简要视图，不存在的 taskId 直接跳过
func (s *ProgressService) GetBatch(taskIDs []string) map[string]models.TaskBrief {
	result := make(map[string]models.TaskBrief, len(taskIDs))
	for _, id := range taskIDs {
		if task := s.lookup(id); task != nil {
			result[id] = task.Brief()
		}
	}
	return result
}

// ActiveSnapshots 返回所有非终态任务的完整视图（WebSocket 推送用）
func (s *ProgressService) ActiveSnapshots() []models.TaskSnapshot {
	s.mu.RLock()
	tasks := make([]*models.DownloadTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()

	snapshots := make([]models.TaskSnapshot, 0, len(tasks))
	for _, task := range tasks {
		snap := task.Snapshot()
		if !snap.Status.IsTerminal() {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

// Remove 无条件移除任务
func (s *ProgressService) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; ok {
		delete(s.tasks, taskID)
		utils.Info("移除下载任务: %s", taskID)
	}
}

// SweepExpired 清理结束时间早于保留期限的终态任务，返回清理数量。
// 可与任何其他操作并发调用。
func (s *ProgressService) SweepExpired(retention time.Duration) int {
	deadline := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if task.ExpiredAt(deadline) {
			delete(s.tasks, id)
			removed++
			utils.Debug("清理过期任务: %s", id)
		}
	}
	return removed
}

// Count 当前注册表中的任务数量
func (s *ProgressService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *ProgressService) lookup(taskID string) *models.DownloadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskID]
}
