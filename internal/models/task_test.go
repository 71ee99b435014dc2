package models

import (
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("状态 %s 应该是终态", s)
		}
	}

	active := []Status{StatusPreparing, StatusDownloading}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("状态 %s 不应该是终态", s)
		}
	}
}

func TestStatusDescription(t *testing.T) {
	cases := map[Status]string{
		StatusPreparing:   "准备中",
		StatusDownloading: "下载中",
		StatusCompleted:   "已完成",
		StatusFailed:      "失败",
		StatusCancelled:   "已取消",
		Status("BOGUS"):   "未知",
	}
	for status, want := range cases {
		if got := status.Description(); got != want {
			t.Errorf("Description(%s) = %v, 期望 %v", status, got, want)
		}
	}
}

func TestNewDownloadTask(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	snap := task.Snapshot()
	if snap.Status != StatusPreparing {
		t.Errorf("新任务状态 = %s, 期望 PREPARING", snap.Status)
	}
	if snap.TotalSize != 1000 {
		t.Errorf("总大小 = %d, 期望 1000", snap.TotalSize)
	}
	if snap.StartTime != now.UnixMilli() {
		t.Errorf("开始时间 = %d, 期望 %d", snap.StartTime, now.UnixMilli())
	}
	if snap.EndTime != 0 {
		t.Errorf("未结束任务的结束时间应该为0, 实际 %d", snap.EndTime)
	}
}

func TestNewDownloadTaskNegativeTotal(t *testing.T) {
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", -5, time.Now())
	if task.Snapshot().TotalSize != 0 {
		t.Error("负数总大小应该按未知（0）处理")
	}
}

func TestUpdateProgressTransition(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	task.UpdateProgress(100, now.Add(10*time.Millisecond), time.Second)

	snap := task.Snapshot()
	if snap.Status != StatusDownloading {
		t.Errorf("首次更新后状态 = %s, 期望 DOWNLOADING", snap.Status)
	}
	if snap.DownloadedSize != 100 {
		t.Errorf("已下载 = %d, 期望 100", snap.DownloadedSize)
	}
	if snap.Percentage != 10 {
		t.Errorf("百分比 = %v, 期望 10", snap.Percentage)
	}
}

func TestUpdateProgressClampAndMonotonic(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	// 超过总大小时收敛
	task.UpdateProgress(5000, now, time.Second)
	if got := task.Downloaded(); got != 1000 {
		t.Errorf("超出总大小应被收敛到 1000, 实际 %d", got)
	}

	// 计数器只增不减
	task.UpdateProgress(300, now, time.Second)
	if got := task.Downloaded(); got != 1000 {
		t.Errorf("回退的更新不应生效, 实际 %d", got)
	}
}

func TestUpdateProgressSampleIntervalNotReached(t *testing.T) {
	start := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 10_000_000, start)

	// 采样间隔内的更新只更新计数器，不重算速度
	task.UpdateProgress(100_000, start.Add(200*time.Millisecond), time.Second)

	snap := task.Snapshot()
	if snap.Speed != 0 {
		t.Errorf("采样间隔内不应重算速度, 实际 %v", snap.Speed)
	}
	if snap.DownloadedSize != 100_000 {
		t.Errorf("计数器应该每次更新, 实际 %d", snap.DownloadedSize)
	}
}

func TestUpdateProgressSpeedSampling(t *testing.T) {
	start := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 10_000_000, start)

	// 2秒内新增 2_000_000 字节，速度约 1MB/s
	task.UpdateProgress(2_000_000, start.Add(2*time.Second), time.Second)
	snap := task.Snapshot()
	if snap.Speed < 999_000 || snap.Speed > 1_001_000 {
		t.Errorf("速度 = %v, 期望约 1000000 B/s", snap.Speed)
	}
	// 剩余 8_000_000 字节按当前速度约 8000ms
	if snap.EstimatedTime < 7900 || snap.EstimatedTime > 8100 {
		t.Errorf("预估剩余时间 = %d, 期望约 8000ms", snap.EstimatedTime)
	}
}

func TestTerminalFirstWriterWins(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	if !task.Cancel(now) {
		t.Fatal("首次取消应该成功")
	}
	if task.Complete(now.Add(time.Second)) {
		t.Error("终态后不应再迁移到 COMPLETED")
	}
	if task.Fail("后来者", now.Add(time.Second)) {
		t.Error("终态后不应再迁移到 FAILED")
	}

	snap := task.Snapshot()
	if snap.Status != StatusCancelled {
		t.Errorf("状态 = %s, 期望 CANCELLED", snap.Status)
	}
	if snap.EndTime != now.UnixMilli() {
		t.Error("终态后的迁移尝试不应改写结束时间")
	}
	if snap.ErrorMessage != "" {
		t.Errorf("取消任务不应携带错误信息, 实际 %q", snap.ErrorMessage)
	}
}

func TestUpdateProgressIgnoredAfterTerminal(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)
	task.UpdateProgress(200, now, time.Second)
	task.Cancel(now)

	task.UpdateProgress(800, now.Add(time.Second), time.Second)
	if got := task.Downloaded(); got != 200 {
		t.Errorf("终态后进度更新不应生效, 实际 %d", got)
	}
}

func TestFailRecordsMessage(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	task.Fail("上游响应状态 502", now)

	snap := task.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("状态 = %s, 期望 FAILED", snap.Status)
	}
	if snap.ErrorMessage != "上游响应状态 502" {
		t.Errorf("错误信息 = %q", snap.ErrorMessage)
	}
}

func TestSetTotalSize(t *testing.T) {
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 0, time.Now())

	task.SetTotalSize(2048)
	if task.Snapshot().TotalSize != 2048 {
		t.Error("未知总大小应该可以补记")
	}

	task.SetTotalSize(4096)
	if task.Snapshot().TotalSize != 2048 {
		t.Error("已知总大小不应被覆盖")
	}
}

func TestExpiredAt(t *testing.T) {
	now := time.Now()
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 1000, now)

	if task.ExpiredAt(now.Add(time.Hour)) {
		t.Error("非终态任务永远不算过期")
	}

	task.Complete(now)
	if !task.ExpiredAt(now.Add(time.Hour)) {
		t.Error("结束时间早于截止时间的终态任务应该过期")
	}
	if task.ExpiredAt(now.Add(-time.Hour)) {
		t.Error("结束时间晚于截止时间的任务不应过期")
	}
}

func TestPercentageUnknownTotal(t *testing.T) {
	task := NewDownloadTask("task-1", "https://example.com/v.mp4", 0, time.Now())
	task.UpdateProgress(500, time.Now(), time.Second)

	if got := task.Snapshot().Percentage; got != 0 {
		t.Errorf("总大小未知时百分比应该为0, 实际 %v", got)
	}
}
