package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/chat"
	grpcserver "chat-relay/internal/grpc"
	"chat-relay/internal/message"
	"chat-relay/internal/notification"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/driver"
	"chat-relay/internal/platform/health"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/platform/server"
	"chat-relay/internal/push"
	"chat-relay/internal/realtime"
	"chat-relay/internal/retention"
	"chat-relay/internal/security/audit"
	"chat-relay/internal/security/encryption"
	"chat-relay/internal/storage/database"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// .env 不存在時忽略，環境變數仍可直接設定
	_ = godotenv.Load()

	// 載入配置（日誌設定來自配置檔）.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 初始化日誌.
	if err := logger.InitLogger(cfg.Log); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	cipher, err := encryption.NewMessageEncryption(cfg.Security.Encryption.Enabled, cfg.Security.Encryption.MasterKey)
	if err != nil {
		logger.Error(ctx, "加密服務初始化失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("encryption initialization failed")
	}
	if !cfg.Security.Encryption.Enabled {
		logger.Warning(ctx, "[WARNING] 訊息加密未啟用，文字將以原文存放")
	}

	repos, err := database.NewRepositories(ctx, driver.GetMongoDatabase(), cfg, cipher)
	if err != nil {
		return err
	}

	auditSvc := audit.NewAuditService(cfg.Security.Audit.Enabled)
	auth := middleware.NewAuthenticator(cfg.Security.Authentication, auditSvc)

	var pushSender chat.PushSender = push.Disabled{}
	if cfg.Push.Enabled {
		pushSender = push.NewSender(repos.Subscriptions, cfg.Push)
		logger.Info(ctx, "[System] Web Push 已啟用")
	}

	hub := realtime.NewHub()
	notifier := chat.NewNotifier(repos.Notifications, hub, repos.Users, pushSender)
	coordinator := chat.NewCoordinator(repos.Messages, notifier, hub,
		chat.WithMaxTextLength(cfg.Limits.Message.MaxLength),
		chat.WithAudit(auditSvc),
	)
	visibility := chat.NewVisibility(repos.Messages, repos.Users)

	handler, stopLimiters := server.Router(cfg, server.Handlers{
		Auth:          auth,
		Audit:         auditSvc,
		Messages:      message.NewHandler(coordinator, visibility, repos.Media, cfg.Uploads, cfg.Limits.Pagination),
		Notifications: notification.NewHandler(notifier, repos.Subscriptions, cfg.Push.VAPIDPublicKey, cfg.Limits.Pagination.NotificationPageSize),
		Realtime:      realtime.NewHandler(hub, coordinator, auth, repos.Users, auditSvc, cfg.Realtime),
		Health:        health.NewHealthHandler(driver.Ping, hub, cfg.App.Name, "mongodb", cfg.App.Debug),
	})

	// 通知保留排程
	stopRetention := func() {}
	if cfg.Retention.Enabled {
		job, err := retention.NewJob(notifier, cfg.Retention)
		if err != nil {
			return err
		}
		stopRetention = job.Start(ctx)
	}
	defer stopRetention()

	// 啟動 gRPC 服務器
	var grpcServer *grpcserver.Server
	if cfg.GRPC.Enabled {
		var opts []grpc.ServerOption
		tlsConfig, err := server.LoadTLSConfig(cfg.Security.TLS)
		if err != nil {
			logger.Error(ctx, "gRPC TLS 配置載入失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return fmt.Errorf("server initialization failed")
		}
		if tlsConfig != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		} else {
			logger.Warning(ctx, "[WARNING] gRPC 未啟用 TLS，僅適用於開發環境")
		}

		grpcServer = grpcserver.NewServer(notifier, cfg.GRPC.ServiceTokens, opts...)
		go func() {
			if err := grpcServer.Start(config.GetGRPCAddr()); err != nil {
				logger.Errorf(ctx, "gRPC 服務器啟動失敗: %v", err)
			}
		}()
	}

	// 啟動 HTTP 服務器
	httpTLS, err := server.LoadTLSConfig(config.TLSConfig{
		Enabled:  cfg.Server.UseHTTPS,
		CertFile: cfg.Server.CertPath,
		KeyFile:  cfg.Server.KeyPath,
	})
	if err != nil {
		return err
	}
	httpServer := server.NewHTTPServer(cfg.Server, handler, httpTLS, hub, stopLimiters)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()
	logger.Info(ctx, "[System] 服務器啟動完成", logger.WithDetails(map[string]interface{}{
		"http":    config.GetServerAddr(),
		"grpc":    cfg.GRPC.Enabled,
		"push":    cfg.Push.Enabled,
		"env":     config.GetEnv(),
		"version": cfg.App.Version,
	}))

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			logger.Errorf(ctx, "HTTP 服務器啟動失敗: %v", err)
			return err
		}
	}

	logger.Info(ctx, "正在關閉服務器...", logger.WithAction("shutdown"))
	if grpcServer != nil {
		grpcServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
