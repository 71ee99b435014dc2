package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"video_proxy/internal/config"
	"video_proxy/internal/handlers"
	"video_proxy/internal/services"
	"video_proxy/internal/utils"
)

func main() {
	port := flag.Int("port", 0, "服务监听端口（覆盖 VIDEO_PROXY_PORT）")
	debug := flag.Bool("debug", false, "输出调试日志")
	flag.Parse()

	cfg := config.Load()
	if *port > 0 {
		cfg.SetPort(*port)
	}

	logLevel := utils.INFO
	if *debug {
		logLevel = utils.DEBUG
	}
	if err := utils.InitLogger(logLevel, cfg.LogFile); err != nil {
		utils.HandleError(err, "初始化日志系统失败")
	}

	color.Cyan("🎬 视频代理服务 v%s", cfg.Version)

	// 组装服务
	refererService := services.NewRefererService(cfg.ProbeConnTimeout, cfg.ProbeReadTimeout)
	progressService := services.NewProgressService(cfg.SampleInterval)
	proxyService := services.NewProxyService(cfg, refererService, progressService)
	cleanupService := services.NewCleanupService(progressService, cfg.SweepRetention, cfg.SweepPeriod)
	prefetchService := services.NewPrefetchService(refererService, cfg.PrefetchWorkers, cfg.PrefetchQueueSize)

	proxyHandler := handlers.NewProxyHandler(proxyService, prefetchService)
	progressHandler := handlers.NewProgressHandler(progressService, cleanupService)
	wsHub := handlers.NewWebSocketHub(progressService)

	cleanupService.Start()
	wsHub.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/", proxyHandler.HandleProxyAPI)
	mux.HandleFunc("/download/", progressHandler.HandleDownloadAPI)
	mux.HandleFunc("/ws", wsHub.ServeWs)
	mux.HandleFunc("/ws/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"clients": wsHub.ClientCount(),
			"tasks":   progressService.Count(),
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	// 优雅退出：收到信号后停止清理协程、排空预加载池、关闭服务
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		utils.Info("收到信号 %v，正在退出...", sig)

		cleanupService.Stop()
		prefetchService.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			utils.Warn("关闭服务失败: %v", err)
		}
	}()

	utils.Info("🚀 服务已启动，监听端口: %d", cfg.Port)
	utils.Info("   代理下载: http://127.0.0.1:%d/proxy/download?url=<视频URL>", cfg.Port)
	utils.Info("   进度推送: ws://127.0.0.1:%d/ws", cfg.Port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		utils.HandleError(err, "服务启动失败")
		os.Exit(1)
	}
	utils.Info("服务已退出")
}
