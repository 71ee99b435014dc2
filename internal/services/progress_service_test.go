package services

import (
	"testing"
	"time"

	"video_proxy/internal/models"
)

// newTestProgressService 返回时钟可控的进度服务，返回的函数用于推进时间
func newTestProgressService(sampleInterval time.Duration) (*ProgressService, func(d time.Duration)) {
	s := NewProgressService(sampleInterval)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return s, advance
}

func TestCreateTaskDuplicate(t *testing.T) {
	s, _ := newTestProgressService(time.Second)

	first := s.CreateTask("task-1", "https://example.com/a.mp4", 1000)
	second := s.CreateTask("task-1", "https://example.com/b.mp4", 2000)

	if first != second {
		t.Error("重复的 taskId 应该返回已有任务")
	}
	if s.Count() != 1 {
		t.Errorf("任务数量 = %d, 期望 1", s.Count())
	}
	if second.SourceURL != "https://example.com/a.mp4" {
		t.Error("重复创建不应覆盖已有任务的URL")
	}
}

func TestUpdateProgressSpeedAndEstimate(t *testing.T) {
	s, advance := newTestProgressService(time.Second)
	s.CreateTask("task-1", "https://example.com/a.mp4", 10_000_000)

	// 2秒后新增 2_000_000 字节
	advance(2 * time.Second)
	s.UpdateProgress("task-1", 2_000_000)

	snap := s.Get("task-1")
	if snap == nil {
		t.Fatal("任务应该存在")
	}
	if snap.Speed < 999_000 || snap.Speed > 1_001_000 {
		t.Errorf("速度 = %v, 期望约 1000000 B/s", snap.Speed)
	}
	if snap.EstimatedTime < 7900 || snap.EstimatedTime > 8100 {
		t.Errorf("预估剩余时间 = %d, 期望约 8000ms", snap.EstimatedTime)
	}
	if snap.Status != models.StatusDownloading {
		t.Errorf("状态 = %s, 期望 DOWNLOADING", snap.Status)
	}
	if snap.FormattedSpeed == "" || snap.FormattedEstimatedTime == "" {
		t.Error("视图应该包含格式化后的速度与剩余时间")
	}
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := newTestProgressService(time.Second)

	if s.Get("no-such-task") != nil {
		t.Error("不存在的任务应该返回 nil")
	}
}

func TestGetBatchSkipsUnknown(t *testing.T) {
	s, _ := newTestProgressService(time.Second)
	s.CreateTask("task-1", "https://example.com/a.mp4", 1000)
	s.CreateTask("task-2", "https://example.com/b.mp4", 2000)

	result := s.GetBatch([]string{"task-1", "missing", "task-2"})

	if len(result) != 2 {
		t.Fatalf("批量查询结果数量 = %d, 期望 2", len(result))
	}
	if _, ok := result["missing"]; ok {
		t.Error("不存在的任务不应出现在结果中")
	}
	if result["task-1"].Status != models.StatusPreparing {
		t.Errorf("task-1 状态 = %s, 期望 PREPARING", result["task-1"].Status)
	}
}

func TestCancelBeatsComplete(t *testing.T) {
	s, _ := newTestProgressService(time.Second)
	s.CreateTask("task-1", "https://example.com/a.mp4", 1000)

	s.Cancel("task-1")
	if !s.IsCancelled("task-1") {
		t.Fatal("取消后 IsCancelled 应该为 true")
	}

	// 传输循环随后的完成标记不应覆盖取消状态
	s.MarkCompleted("task-1")
	if snap := s.Get("task-1"); snap.Status != models.StatusCancelled {
		t.Errorf("状态 = %s, 期望 CANCELLED", snap.Status)
	}
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	s, _ := newTestProgressService(time.Second)
	s.CreateTask("task-1", "https://example.com/a.mp4", 1000)

	s.MarkFailed("task-1", "代理下载失败: 连接超时")

	snap := s.Get("task-1")
	if snap.Status != models.StatusFailed {
		t.Errorf("状态 = %s, 期望 FAILED", snap.Status)
	}
	if snap.ErrorMessage != "代理下载失败: 连接超时" {
		t.Errorf("错误信息 = %q", snap.ErrorMessage)
	}
}

func TestOperationsOnUnknownTaskAreNoops(t *testing.T) {
	s, _ := newTestProgressService(time.Second)

	// 不存在的任务上的操作不应 panic 也不应创建任务
	s.UpdateProgress("ghost", 100)
	s.SetTotalSize("ghost", 1000)
	s.MarkCompleted("ghost")
	s.MarkFailed("ghost", "boom")
	s.Cancel("ghost")
	s.Remove("ghost")

	if s.IsCancelled("ghost") {
		t.Error("不存在的任务不应报告已取消")
	}
	if s.Count() != 0 {
		t.Errorf("任务数量 = %d, 期望 0", s.Count())
	}
}

func TestSweepExpired(t *testing.T) {
	s, advance := newTestProgressService(time.Second)

	// 2小时前完成的任务
	s.CreateTask("old", "https://example.com/old.mp4", 1000)
	s.MarkCompleted("old")

	advance(90 * time.Minute)

	// 30分钟前完成的任务
	s.CreateTask("recent", "https://example.com/recent.mp4", 1000)
	s.MarkCompleted("recent")

	advance(30 * time.Minute)

	// 仍在下载中的任务
	s.CreateTask("active", "https://example.com/active.mp4", 1000)
	s.UpdateProgress("active", 100)

	removed := s.SweepExpired(time.Hour)

	if removed != 1 {
		t.Errorf("清理数量 = %d, 期望 1", removed)
	}
	if s.Get("old") != nil {
		t.Error("超过保留期的终态任务应该被清理")
	}
	if s.Get("recent") == nil {
		t.Error("保留期内的终态任务不应被清理")
	}
	if s.Get("active") == nil {
		t.Error("非终态任务不应被清理")
	}
}

func TestActiveSnapshotsExcludesTerminal(t *testing.T) {
	s, _ := newTestProgressService(time.Second)
	s.CreateTask("running", "https://example.com/a.mp4", 1000)
	s.UpdateProgress("running", 100)
	s.CreateTask("done", "https://example.com/b.mp4", 1000)
	s.MarkCompleted("done")

	snapshots := s.ActiveSnapshots()

	if len(snapshots) != 1 {
		t.Fatalf("活跃任务数量 = %d, 期望 1", len(snapshots))
	}
	if snapshots[0].TaskID != "running" {
		t.Errorf("活跃任务 = %s, 期望 running", snapshots[0].TaskID)
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestProgressService(time.Second)
	s.CreateTask("task-1", "https://example.com/a.mp4", 1000)

	s.Remove("task-1")

	if s.Get("task-1") != nil {
		t.Error("移除后任务不应存在")
	}
}
