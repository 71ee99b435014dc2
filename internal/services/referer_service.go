package services

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"video_proxy/internal/utils"
)

// domainRule 域名匹配规则：按声明顺序匹配，首个命中者生效
type domainRule struct {
	keyword string // 在小写 host 中做子串匹配
	referer string
}

// 各平台防盗链所需的 Referer 规则表
var defaultDomainRules = []domainRule{
	{"douyin", "https://www.douyin.com/"},
	{"iesdouyin", "https://www.douyin.com/"},
	{"kuaishou", "https://www.kuaishou.com/"},
	{"xiaohongshu", "https://www.xiaohongshu.com/"},
	{"xhslink", "https://www.xiaohongshu.com/"},
	{"weishi", "https://weishi.qq.com/"},
	{"ixigua", "https://www.ixigua.com/"},
	{"pipix", "https://h5.pipix.com/"},
	{"weibo", "https://weibo.com/"},
	{"bilibili", "https://www.bilibili.com/"},
	{"haokan", "https://haokan.baidu.com/"},
	{"huoshan", "https://www.huoshan.com/"},
	{"zuiyou", "https://www.izuiyou.com/"},
}

// 伪装成浏览器的固定请求头
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
const acceptVideo = "video/webm,video/ogg,video/*;q=0.9,application/ogg;q=0.7,audio/*;q=0.6,*/*;q=0.5"

// URLInfo URL预处理结果
type URLInfo struct {
	Host    string
	Referer string
}

// RefererService 视频URL预处理服务：根据域名确定绕过防盗链所需的
// Referer 与请求头，并提供可选的可访问性探测
type RefererService struct {
	rules  []domainRule
	client *http.Client
}

// NewRefererService 创建URL预处理服务
func NewRefererService(connTimeout, readTimeout time.Duration) *RefererService {
	return &RefererService{
		rules: defaultDomainRules,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   connTimeout,
				ResponseHeaderTimeout: readTimeout,
			},
			Timeout: connTimeout + readTimeout,
		},
	}
}

// Resolve 解析视频URL并确定合适的 Referer。
// URL 非法时返回错误，调用方应退回到不带自定义 Referer 的请求；
// 未命中任何规则时合成同源 Referer（scheme://host/）。
func (s *RefererService) Resolve(rawURL string) (*URLInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("无效的视频URL: %s", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	referer := ""
	for _, rule := range s.rules {
		if strings.Contains(host, rule.keyword) {
			referer = rule.referer
			break
		}
	}
	if referer == "" {
		referer = u.Scheme + "://" + u.Host + "/"
	}

	return &URLInfo{Host: host, Referer: referer}, nil
}

// ApplyHeaders 为上游请求设置伪装请求头。
// Accept-Encoding 固定为 identity：禁用压缩后 Range 协商的字节偏移
// 才与流式传输的字节位置一一对应。
func ApplyHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	req.Header.Set("Accept", acceptVideo)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "video")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
}

// ProbeAccessible 探测视频URL是否可访问：只请求前1KB数据，
// 2xx 或 206 视为可访问。结果仅作诊断参考，探测失败不会阻止
// 后续的代理传输。
func (s *RefererService) ProbeAccessible(rawURL, referer string) bool {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	ApplyHeaders(req, referer)
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := s.client.Do(req)
	if err != nil {
		utils.Warn("URL可访问性检查失败: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	accessible := (resp.StatusCode >= 200 && resp.StatusCode < 300) ||
		resp.StatusCode == http.StatusPartialContent

	utils.Debug("URL可访问性检查 - URL: %s, Status: %d, Accessible: %v",
		rawURL, resp.StatusCode, accessible)
	return accessible
}
