package models

import (
	"sync"
	"sync/atomic"
	"time"

	"video_proxy/internal/utils"
)

// Status 下载任务状态
type Status string

const (
	StatusPreparing   Status = "PREPARING"
	StatusDownloading Status = "DOWNLOADING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// IsTerminal 判断是否为终态（终态后不再发生状态迁移）
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Description 状态的中文描述
func (s Status) Description() string {
	switch s {
	case StatusPreparing:
		return "准备中"
	case StatusDownloading:
		return "下载中"
	case StatusCompleted:
		return "已完成"
	case StatusFailed:
		return "失败"
	case StatusCancelled:
		return "已取消"
	default:
		return "未知"
	}
}

// DownloadTask 一次代理传输的跟踪状态。
// downloadedSize 为独立的原子计数器：传输协程每块写入都会更新，
// 轮询方随时读取；其余字段由 mu 保护。
type DownloadTask struct {
	TaskID    string
	SourceURL string

	downloadedSize atomic.Int64

	mu             sync.Mutex
	totalSize      int64
	status         Status
	speed          float64 // bytes/second
	estimatedMs    int64   // 预估剩余毫秒
	startTime      time.Time
	endTime        time.Time
	lastSampleTime time.Time
	errorMessage   string
}

// NewDownloadTask 创建处于 PREPARING 状态的任务
func NewDownloadTask(taskID, sourceURL string, totalSize int64, now time.Time) *DownloadTask {
	if totalSize < 0 {
		totalSize = 0
	}
	t := &DownloadTask{
		TaskID:    taskID,
		SourceURL: sourceURL,
	}
	t.totalSize = totalSize
	t.status = StatusPreparing
	t.startTime = now
	t.lastSampleTime = now
	return t
}

// UpdateProgress 更新已下载字节数。
// 计数器每次调用都更新（总大小已知时收敛到不超过总大小）；
// 速度与预估剩余时间仅在距上次采样超过 sampleInterval 时重算，
// 其余时间读取方拿到的是上一次的采样值。
// 首次调用会把 PREPARING 迁移为 DOWNLOADING；终态任务不受影响。
func (t *DownloadTask) UpdateProgress(downloadedBytes int64, now time.Time, sampleInterval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsTerminal() {
		return
	}

	if t.totalSize > 0 && downloadedBytes > t.totalSize {
		downloadedBytes = t.totalSize
	}
	previous := t.downloadedSize.Load()
	if downloadedBytes < previous {
		// 计数器只增不减
		downloadedBytes = previous
	}
	t.downloadedSize.Store(downloadedBytes)

	elapsed := now.Sub(t.lastSampleTime)
	if elapsed >= sampleInterval && elapsed > 0 {
		bytesDiff := downloadedBytes - previous
		t.speed = float64(bytesDiff) / elapsed.Seconds()
		t.lastSampleTime = now

		if t.speed > 0 && t.totalSize > 0 {
			remaining := t.totalSize - downloadedBytes
			t.estimatedMs = int64(float64(remaining) / t.speed * 1000)
		}
	}

	if t.status == StatusPreparing {
		t.status = StatusDownloading
	}
}

// markTerminal 终态先到先得：已处于终态时不再迁移，也不改写 endTime
func (t *DownloadTask) markTerminal(status Status, message string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsTerminal() {
		return false
	}
	t.status = status
	t.endTime = now
	if status == StatusFailed {
		t.errorMessage = message
	}
	return true
}

// Complete 标记任务完成
func (t *DownloadTask) Complete(now time.Time) bool {
	return t.markTerminal(StatusCompleted, "", now)
}

// Fail 标记任务失败并记录错误信息
func (t *DownloadTask) Fail(message string, now time.Time) bool {
	return t.markTerminal(StatusFailed, message, now)
}

// Cancel 标记任务取消
func (t *DownloadTask) Cancel(now time.Time) bool {
	return t.markTerminal(StatusCancelled, "", now)
}

// IsCancelled 传输循环在每个分块边界调用的协作式取消检查
func (t *DownloadTask) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusCancelled
}

// SetTotalSize 补记总大小（仅在创建时未知、首次从上游响应头得知时生效）
func (t *DownloadTask) SetTotalSize(totalSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalSize == 0 && totalSize > 0 {
		t.totalSize = totalSize
	}
}

// Downloaded 返回已下载字节数
func (t *DownloadTask) Downloaded() int64 {
	return t.downloadedSize.Load()
}

// ExpiredAt 判断任务是否已终态且结束时间早于 deadline（供清理扫描使用）
func (t *DownloadTask) ExpiredAt(deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.IsTerminal() && t.endTime.Before(deadline)
}

// TaskSnapshot 任务完整视图（进度查询接口返回）
type TaskSnapshot struct {
	TaskID                 string  `json:"taskId"`
	VideoURL               string  `json:"videoUrl"`
	TotalSize              int64   `json:"totalSize"`
	DownloadedSize         int64   `json:"downloadedSize"`
	Percentage             float64 `json:"percentage"`
	Status                 Status  `json:"status"`
	StatusDescription      string  `json:"statusDescription"`
	Speed                  float64 `json:"speed"`
	FormattedSpeed         string  `json:"formattedSpeed"`
	EstimatedTime          int64   `json:"estimatedTime"`
	FormattedEstimatedTime string  `json:"formattedEstimatedTime"`
	StartTime              int64   `json:"startTime"`
	EndTime                int64   `json:"endTime"`
	ErrorMessage           string  `json:"errorMessage,omitempty"`
}

// TaskBrief 任务简要视图（批量轮询接口返回）
type TaskBrief struct {
	Percentage             float64 `json:"percentage"`
	Status                 Status  `json:"status"`
	StatusDescription      string  `json:"statusDescription"`
	FormattedSpeed         string  `json:"formattedSpeed"`
	FormattedEstimatedTime string  `json:"formattedEstimatedTime"`
	ErrorMessage           string  `json:"errorMessage,omitempty"`
}

// Snapshot 生成任务完整视图
func (t *DownloadTask) Snapshot() TaskSnapshot {
	downloaded := t.downloadedSize.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	return TaskSnapshot{
		TaskID:                 t.TaskID,
		VideoURL:               t.SourceURL,
		TotalSize:              t.totalSize,
		DownloadedSize:         downloaded,
		Percentage:             percentage(downloaded, t.totalSize),
		Status:                 t.status,
		StatusDescription:      t.status.Description(),
		Speed:                  t.speed,
		FormattedSpeed:         utils.FormatSpeed(t.speed),
		EstimatedTime:          t.estimatedMs,
		FormattedEstimatedTime: utils.FormatDuration(t.estimatedMs),
		StartTime:              toMillis(t.startTime),
		EndTime:                toMillis(t.endTime),
		ErrorMessage:           t.errorMessage,
	}
}

// Brief 生成任务简要视图
func (t *DownloadTask) Brief() TaskBrief {
	downloaded := t.downloadedSize.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	return TaskBrief{
		Percentage:             percentage(downloaded, t.totalSize),
		Status:                 t.status,
		StatusDescription:      t.status.Description(),
		FormattedSpeed:         utils.FormatSpeed(t.speed),
		FormattedEstimatedTime: utils.FormatDuration(t.estimatedMs),
		ErrorMessage:           t.errorMessage,
	}
}

func percentage(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(downloaded) * 100 / float64(total)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
