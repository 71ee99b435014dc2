package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"video_proxy/internal/config"
	"video_proxy/internal/utils"
)

// VideoInfo 视频元数据（/proxy/info 返回）
type VideoInfo struct {
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
	IsVideo       bool   `json:"isVideo"`
	FileSizeMB    string `json:"fileSizeMB"`
}

// ProxyService 视频代理流式传输引擎：以伪装请求头连接上游，
// 透传 Range 协商，按固定大小分块转发字节流，并向进度跟踪服务
// 汇报传输状态。
type ProxyService struct {
	cfg      *config.Config
	referer  *RefererService
	progress *ProgressService

	// 流式传输客户端：连接超时远短于读取超时，整体不限时，
	// 大文件传输的持续时间只受“单次读取不超时”约束
	streamClient *http.Client
	// 元数据探测客户端：面向同步接口，必须快速失败
	probeClient *http.Client
}

// NewProxyService 创建代理传输引擎
func NewProxyService(cfg *config.Config, referer *RefererService, progress *ProgressService) *ProxyService {
	return &ProxyService{
		cfg:      cfg,
		referer:  referer,
		progress: progress,
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.ConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		probeClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ProbeConnTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.ProbeConnTimeout,
				ResponseHeaderTimeout: cfg.ProbeReadTimeout,
			},
			Timeout: cfg.ProbeConnTimeout + cfg.ProbeReadTimeout,
		},
	}
}

// Stream 代理下载视频：透传 Range 请求，流式转发上游字节。
// taskID 非空时在进度跟踪服务中创建/补全对应任务，并在每个分块
// 边界检查协作式取消信号。
func (s *ProxyService) Stream(w http.ResponseWriter, r *http.Request, rawURL, taskID string) {
	info, err := s.referer.Resolve(rawURL)
	if err != nil {
		utils.Warn("代理下载参数无效: %v", err)
		http.Error(w, "无效的视频URL", http.StatusBadRequest)
		if taskID != "" {
			s.progress.MarkFailed(taskID, err.Error())
		}
		return
	}

	utils.Info("开始代理下载视频: %s", rawURL)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		http.Error(w, "无效的视频URL", http.StatusBadRequest)
		if taskID != "" {
			s.progress.MarkFailed(taskID, err.Error())
		}
		return
	}
	ApplyHeaders(req, info.Referer)

	// Range 请求头原样透传；数值解析仅用于日志诊断，解析失败不拦截
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
		if start, end, ok := parseRangeHeader(rangeHeader); ok {
			utils.Info("Range请求: %s (startByte: %d, endByte: %d)", rangeHeader, start, end)
		} else {
			utils.Warn("解析Range请求头失败: %s", rangeHeader)
		}
	}

	resp, err := s.streamClient.Do(req)
	if err != nil {
		s.failBeforeStream(w, taskID, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	contentLength := resp.ContentLength
	utils.Info("视频信息 - ResponseCode: %d, ContentType: %s, ContentLength: %d",
		resp.StatusCode, contentType, contentLength)

	// 创建或补全下载进度跟踪
	if taskID != "" {
		s.progress.CreateTask(taskID, rawURL, contentLength)
		if contentLength > 0 {
			s.progress.SetTotalSize(taskID, contentLength)
		}
	}

	// 上游非成功状态原样透传给客户端，不视为引擎故障
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		utils.Warn("上游返回非成功状态: %d, URL: %s", resp.StatusCode, rawURL)
		copySafeHeaders(w.Header(), resp.Header)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		if taskID != "" {
			s.progress.MarkFailed(taskID, fmt.Sprintf("上游响应状态 %d", resp.StatusCode))
		}
		return
	}

	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
		if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
			w.Header().Set("Content-Range", contentRange)
		}
	}
	s.setupResponseHeaders(w.Header(), contentType, contentLength, rawURL, rangeHeader != "")
	w.WriteHeader(status)

	s.transfer(w, resp.Body, taskID)
}

// transfer 分块转发上游字节流。每个分块边界检查取消信号；
// 原始计数器每块边界都尝试汇报，速度采样间隔由跟踪服务内部约束。
func (s *ProxyService) transfer(w http.ResponseWriter, body io.Reader, taskID string) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, s.cfg.BufferSize)

	var totalBytes, lastFlushBytes, lastLogBytes int64
	startTime := time.Now()
	lastProgressUpdate := startTime
	lastLogTime := startTime

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			// 分块边界的协作式取消检查；响应已提交，只能停止写入
			if taskID != "" && s.progress.IsCancelled(taskID) {
				utils.Info("下载已被用户取消: %s", taskID)
				return
			}

			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				s.finishAborted(taskID, writeErr, totalBytes)
				return
			}
			totalBytes += int64(n)

			currentTime := time.Now()

			if taskID != "" && currentTime.Sub(lastProgressUpdate) >= s.cfg.SampleInterval {
				s.progress.UpdateProgress(taskID, totalBytes)
				lastProgressUpdate = currentTime
			}

			if interval := currentTime.Sub(lastLogTime); interval >= s.cfg.LogInterval {
				totalMB := float64(totalBytes) / (1024 * 1024)
				intervalMB := float64(totalBytes-lastLogBytes) / (1024 * 1024)
				utils.Debug("已传输 %.2f MB, 当前速度: %.2f MB/s, 平均速度: %.2f MB/s",
					totalMB,
					intervalMB/interval.Seconds(),
					totalMB/currentTime.Sub(startTime).Seconds())
				lastLogTime = currentTime
				lastLogBytes = totalBytes
			}

			// 每隔几MB刷新一次输出流：逐块刷新开销过大，完全不刷新
			// 又会让客户端长时间收不到数据
			if flusher != nil && totalBytes-lastFlushBytes >= s.cfg.FlushInterval {
				flusher.Flush()
				lastFlushBytes = totalBytes
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			s.failMidStream(taskID, readErr, totalBytes)
			return
		}
	}

	if flusher != nil {
		flusher.Flush()
	}
	utils.Info("视频下载完成，总大小: %d bytes", totalBytes)

	if taskID != "" {
		// 最后按准确总字节数更新一次，确保进度收敛到100%
		s.progress.UpdateProgress(taskID, totalBytes)
		s.progress.MarkCompleted(taskID)
	}
}

// failBeforeStream 处理尚未向客户端写出任何字节时的上游失败，
// 此时仍可改写响应状态码
func (s *ProxyService) failBeforeStream(w http.ResponseWriter, taskID string, err error) {
	if isBenignDisconnect(err) {
		utils.Info("客户端在连接上游前断开: %v", err)
		w.WriteHeader(http.StatusRequestTimeout)
		if taskID != "" {
			s.progress.Cancel(taskID)
		}
		return
	}

	utils.Error("连接上游失败: %v", err)
	http.Error(w, "上游服务不可用", http.StatusServiceUnavailable)
	if taskID != "" {
		s.progress.MarkFailed(taskID, err.Error())
	}
}

// finishAborted 处理客户端中途断开：属于良性结束，不按失败记录
func (s *ProxyService) finishAborted(taskID string, err error, totalBytes int64) {
	utils.Info("客户端断开视频代理连接(已传输 %d bytes): %v", totalBytes, err)
	if taskID != "" {
		// 终态先到先得：若任务已被显式取消/完成，这里是空操作
		s.progress.Cancel(taskID)
	}
}

// failMidStream 处理流式传输中途的上游读取失败；响应已提交，
// 无法改写状态码，只能停止并落定任务终态
func (s *ProxyService) failMidStream(taskID string, err error, totalBytes int64) {
	if isBenignDisconnect(err) {
		utils.Info("视频代理传输中断(已传输 %d bytes): %v", totalBytes, err)
		if taskID != "" {
			s.progress.Cancel(taskID)
		}
		return
	}

	utils.Error("代理下载视频失败(已传输 %d bytes): %v", totalBytes, err)
	if taskID != "" {
		s.progress.MarkFailed(taskID, err.Error())
	}
}

// Describe 获取视频元数据：仅读取响应头，不消费正文
func (s *ProxyService) Describe(rawURL string) (*VideoInfo, error) {
	info, err := s.referer.Resolve(rawURL)
	referer := ""
	if err == nil {
		referer = info.Referer
	}

	req, reqErr := http.NewRequest(http.MethodGet, rawURL, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("无效的视频URL: %w", reqErr)
	}
	ApplyHeaders(req, referer)

	resp, doErr := s.probeClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("获取视频信息失败: %w", doErr)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	contentLength := resp.ContentLength

	return &VideoInfo{
		ContentType:   contentType,
		ContentLength: contentLength,
		IsVideo:       utils.IsVideoContent(contentType, rawURL),
		FileSizeMB:    utils.FormatSizeMB(contentLength),
	}, nil
}

// setupResponseHeaders 设置面向客户端的响应头：浏览器 <video> 的
// 拖动依赖 Accept-Ranges 与跨域放行
func (s *ProxyService) setupResponseHeaders(h http.Header, contentType string, contentLength int64, rawURL string, isRangeRequest bool) {
	if contentType != "" {
		h.Set("Content-Type", contentType)
	} else {
		h.Set("Content-Type", "video/mp4")
	}

	if contentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}

	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", `attachment; filename="`+utils.ExtractFileName(rawURL)+`"`)

	if isRangeRequest {
		h.Set("Cache-Control", "public, max-age=300")
	} else {
		h.Set("Cache-Control", "public, max-age=3600")
	}
	h.Set("ETag", `"`+hashURL(rawURL)+`"`)

	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

// copySafeHeaders 透传上游非成功响应中可安全转发的响应头
func copySafeHeaders(dst, src http.Header) {
	for _, key := range []string{"Content-Type", "Content-Range", "ETag", "Last-Modified"} {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
}

// parseRangeHeader 解析 bytes=<start>-<end?> 形式的Range请求头，
// end 缺省时返回 -1
func parseRangeHeader(rangeHeader string) (start, end int64, ok bool) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}

	end = -1
	if endStr := strings.TrimSpace(parts[1]); endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
	}
	return start, end, true
}

// 良性断开的错误信息特征（不同平台/运行时的提示语不完全一致）
var benignErrorPatterns = []string{
	"broken pipe",
	"connection reset",
	"connection aborted",
	"client disconnected",
	"use of closed network connection",
}

// isBenignDisconnect 判断是否为客户端断开一类的良性网络错误
func isBenignDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range benignErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// hashURL 由URL生成弱校验标识（ETag用）
func hashURL(rawURL string) string {
	h := fnv.New32a()
	h.Write([]byte(rawURL))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}
