package services

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"video_proxy/internal/utils"
)

// PrefetchJob 一个预加载作业
type PrefetchJob struct {
	ID  string
	URL string
}

// PrefetchService 视频预加载服务：有界工作池异步预热上游
// （DNS、连接与CDN缓存），供大文件下载前的预加载接口使用。
// 仅作辅助，不参与进度跟踪，结果只体现在日志里。
type PrefetchService struct {
	referer *RefererService
	queue   chan PrefetchJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	enqueued int
	finished int
}

// NewPrefetchService 创建预加载服务并启动工作协程
func NewPrefetchService(referer *RefererService, workers, queueSize int) *PrefetchService {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PrefetchService{
		referer: referer,
		queue:   make(chan PrefetchJob, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue 提交一个预加载作业，返回作业ID；队列已满时返回空串
func (s *PrefetchService) Enqueue(rawURL string) string {
	select {
	case <-s.ctx.Done():
		return ""
	default:
	}

	job := PrefetchJob{ID: uuid.New().String(), URL: rawURL}
	select {
	case s.queue <- job:
		s.mu.Lock()
		s.enqueued++
		s.mu.Unlock()
		utils.Info("开始异步预加载视频: %s (作业: %s)", rawURL, job.ID)
		return job.ID
	default:
		utils.Warn("预加载队列已满，丢弃: %s", rawURL)
		return ""
	}
}

// Stats 返回累计提交与完成的作业数
func (s *PrefetchService) Stats() (enqueued, finished int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueued, s.finished
}

// Shutdown 停止接收新作业并等待工作协程退出
func (s *PrefetchService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *PrefetchService) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.queue:
			s.run(job)
		}
	}
}

// run 解析Referer后做一次小范围探测请求，结果仅记入日志
func (s *PrefetchService) run(job PrefetchJob) {
	info, err := s.referer.Resolve(job.URL)
	if err != nil {
		utils.Warn("预加载作业 %s URL无效: %v", job.ID, err)
		return
	}

	accessible := s.referer.ProbeAccessible(job.URL, info.Referer)
	utils.Info("预加载作业 %s 完成，可访问: %v", job.ID, accessible)

	s.mu.Lock()
	s.finished++
	s.mu.Unlock()
}
