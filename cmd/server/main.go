package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sampark/internal/app"
	"sampark/internal/config"
	"sampark/internal/observability"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logrus.Fatalf("read config: %v", err)
		}
	}

	cfg := config.Load()
	appLogger, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Fatalf("init logger: %v", err)
	}

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg.Monitoring.Tracing)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
		shutdownOTel = func(context.Context) error { return nil }
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to start automation service: %v", err)
	}
	service.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭：先停 HTTP，再排空规则队列，最后释放连接
	<-ctx.Done()
	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("automation shutdown: %v", err)
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		appLogger.Warnf("tracing shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}
