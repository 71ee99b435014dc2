package config

import (
	"os"
	"strconv"
	"time"
)

// Config 应用程序配置
type Config struct {
	// 网络配置
	Port int // 服务监听端口

	// 应用信息
	Version string

	// 代理下载配置
	BufferSize       int64         // 流式传输缓冲区大小（字节）
	ConnectTimeout   time.Duration // 上游连接超时
	ReadTimeout      time.Duration // 上游响应头超时（大文件传输本身不限时）
	ProbeConnTimeout time.Duration // 元数据探测连接超时
	ProbeReadTimeout time.Duration // 元数据探测读取超时

	// 进度跟踪配置
	SampleInterval time.Duration // 速度/剩余时间重采样最小间隔
	LogInterval    time.Duration // 传输日志输出间隔
	FlushInterval  int64         // 输出流刷新间隔（字节）
	SweepRetention time.Duration // 终态任务保留时间
	SweepPeriod    time.Duration // 过期任务清理周期

	// 预加载配置
	PrefetchWorkers   int // 预加载工作协程数
	PrefetchQueueSize int // 预加载队列长度

	// 日志配置
	LogFile string // 日志文件路径（可选：VIDEO_PROXY_LOG_FILE）
}

var globalConfig *Config

// Load 加载配置（默认值 + 环境变量覆盖）
func Load() *Config {
	config := defaultConfig()
	loadFromEnvironment(config)
	validate(config)

	globalConfig = config
	return config
}

// Get 获取全局配置实例
func Get() *Config {
	if globalConfig == nil {
		return Load()
	}
	return globalConfig
}

func defaultConfig() *Config {
	return &Config{
		Port:    8080,
		Version: "1.0.0",

		BufferSize:       512 * 1024,       // 512KB 缓冲区
		ConnectTimeout:   8 * time.Second,  // 连接超时须远小于读取超时
		ReadTimeout:      60 * time.Second, // 等待上游响应头的上限
		ProbeConnTimeout: 5 * time.Second,
		ProbeReadTimeout: 10 * time.Second,

		SampleInterval: time.Second,
		LogInterval:    3 * time.Second,
		FlushInterval:  4 * 1024 * 1024, // 每4MB刷新一次输出流
		SweepRetention: time.Hour,       // 终态任务保留1小时
		SweepPeriod:    10 * time.Minute,

		PrefetchWorkers:   10,
		PrefetchQueueSize: 256,

		LogFile: "",
	}
}

// loadFromEnvironment 从环境变量加载配置
func loadFromEnvironment(config *Config) {
	if port := os.Getenv("VIDEO_PROXY_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil && val > 0 && val < 65536 {
			config.Port = val
		}
	}

	if bufSize := os.Getenv("VIDEO_PROXY_BUFFER_SIZE"); bufSize != "" {
		if val, err := strconv.ParseInt(bufSize, 10, 64); err == nil && val > 0 {
			config.BufferSize = val
		}
	}

	if timeout := os.Getenv("VIDEO_PROXY_CONNECT_TIMEOUT_SEC"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.ConnectTimeout = time.Duration(val) * time.Second
		}
	}

	if timeout := os.Getenv("VIDEO_PROXY_READ_TIMEOUT_SEC"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.ReadTimeout = time.Duration(val) * time.Second
		}
	}

	if retention := os.Getenv("VIDEO_PROXY_SWEEP_RETENTION_MIN"); retention != "" {
		if val, err := strconv.Atoi(retention); err == nil && val > 0 {
			config.SweepRetention = time.Duration(val) * time.Minute
		}
	}

	if period := os.Getenv("VIDEO_PROXY_SWEEP_PERIOD_MIN"); period != "" {
		if val, err := strconv.Atoi(period); err == nil && val > 0 {
			config.SweepPeriod = time.Duration(val) * time.Minute
		}
	}

	if workers := os.Getenv("VIDEO_PROXY_PREFETCH_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil && val > 0 {
			config.PrefetchWorkers = val
		}
	}

	if lf := os.Getenv("VIDEO_PROXY_LOG_FILE"); lf != "" {
		config.LogFile = lf
	}
}

// validate 修正明显不合理的配置组合
func validate(config *Config) {
	if config.BufferSize <= 0 {
		config.BufferSize = 512 * 1024
	}
	if config.FlushInterval < config.BufferSize {
		config.FlushInterval = config.BufferSize
	}
	// 连接超时必须短于读取超时，否则按默认比例压缩
	if config.ConnectTimeout >= config.ReadTimeout {
		config.ConnectTimeout = config.ReadTimeout / 4
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Second
	}
}

// SetPort 覆盖监听端口（命令行参数用）
func (c *Config) SetPort(port int) {
	if port > 0 && port < 65536 {
		c.Port = port
	}
}
