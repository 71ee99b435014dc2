package services

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPrefetchEnqueueAndRun(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer upstream.Close()

	referer := newTestRefererService()
	prefetch := NewPrefetchService(referer, 2, 16)
	defer prefetch.Shutdown()

	jobID := prefetch.Enqueue(upstream.URL + "/v.mp4")
	if jobID == "" {
		t.Fatal("入队应该返回作业ID")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, finished := prefetch.Stats(); finished >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("等待预加载作业完成超时")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if hits.Load() == 0 {
		t.Error("预加载应该向上游发起探测请求")
	}
	if enqueued, _ := prefetch.Stats(); enqueued != 1 {
		t.Errorf("累计提交数 = %d, 期望 1", enqueued)
	}
}

func TestPrefetchEnqueueAfterShutdown(t *testing.T) {
	referer := newTestRefererService()
	prefetch := NewPrefetchService(referer, 1, 1)
	prefetch.Shutdown()

	if jobID := prefetch.Enqueue("https://example.com/a.mp4"); jobID != "" {
		t.Error("关闭后的入队应该被拒绝")
	}
}
