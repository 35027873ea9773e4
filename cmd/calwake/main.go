package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"calwake/internal/config"
	"calwake/internal/logger"
	"calwake/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("CALWAKE_CONFIG"))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	wakeService, err := service.NewWakeService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create wake service",
			zap.Error(err),
		)
	}
	defer wakeService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务
	if err := wakeService.Start(ctx); err != nil {
		log.Fatal("Failed to start wake service",
			zap.Error(err),
		)
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	log.Info("Wake service stopped")
}
