package utils

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// 支持识别的视频文件扩展名
var videoExtensions = []string{
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".3gp",
}

// FormatSpeed 格式化下载速度（B/s、KB/s、MB/s）
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < 1024:
		return fmt.Sprintf("%.2f B/s", bytesPerSec)
	case bytesPerSec < 1024*1024:
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	default:
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	}
}

// FormatDuration 格式化预估剩余时间（毫秒）
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "未知"
	}

	seconds := ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%d秒", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%d分%d秒", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%d小时%d分钟", seconds/3600, (seconds%3600)/60)
}

// FormatSizeMB 格式化文件大小为 MB 字符串，未知大小返回"未知"
func FormatSizeMB(bytes int64) string {
	if bytes <= 0 {
		return "未知"
	}
	return fmt.Sprintf("%.2f", float64(bytes)/(1024*1024))
}

// IsVideoContent 判断是否为视频内容（优先Content-Type，其次扩展名）
func IsVideoContent(contentType, rawURL string) bool {
	if contentType != "" && strings.HasPrefix(strings.ToLower(contentType), "video/") {
		return true
	}

	if rawURL != "" {
		lower := strings.ToLower(rawURL)
		for _, ext := range videoExtensions {
			if strings.Contains(lower, ext) {
				return true
			}
		}
	}
	return false
}

// ExtractFileName 从视频URL中提取下载文件名，无法提取时生成默认名
func ExtractFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		path := u.Path
		if idx := strings.LastIndex(path, "/"); idx >= 0 && idx+1 < len(path) {
			name := path[idx+1:]
			if name != "" && IsVideoContent("", name) {
				return name
			}
		}
	}
	return fmt.Sprintf("video_%d.mp4", time.Now().UnixMilli())
}
