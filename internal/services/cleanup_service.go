package services

import (
	"sync"
	"time"

	"video_proxy/internal/utils"
)

// CleanupResult 一次清理操作的结果
type CleanupResult struct {
	TasksRemoved int       `json:"tasksRemoved"`
	CleanupTime  time.Time `json:"cleanupTime"`
}

// CleanupService 过期任务清理服务：定期移除超过保留期限的
// 终态下载任务，也支持通过接口手动触发
type CleanupService struct {
	progress  *ProgressService
	retention time.Duration
	period    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupService 创建清理服务
func NewCleanupService(progress *ProgressService, retention, period time.Duration) *CleanupService {
	if retention <= 0 {
		retention = time.Hour
	}
	if period <= 0 {
		period = 10 * time.Minute
	}
	return &CleanupService{
		progress:  progress,
		retention: retention,
		period:    period,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动后台清理协程
func (s *CleanupService) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		utils.Info("过期任务清理已启动，周期: %v, 保留时间: %v", s.period, s.retention)
		for {
			select {
			case <-ticker.C:
				if removed := s.progress.SweepExpired(s.retention); removed > 0 {
					utils.Info("定期清理过期任务: %d 个", removed)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop 停止后台清理协程并等待其退出
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// RunOnce 立即执行一次清理（手动触发接口用）
func (s *CleanupService) RunOnce() *CleanupResult {
	removed := s.progress.SweepExpired(s.retention)
	return &CleanupResult{
		TasksRemoved: removed,
		CleanupTime:  time.Now(),
	}
}
