// Package server 組裝 HTTP 路由並管理伺服器生命週期
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
)

const shutdownTimeout = 30 * time.Second

// Drainer 關閉時需要先通知的長連線（WebSocket hub）
type Drainer interface {
	Shutdown()
}

// HTTPServer HTTP 伺服器
type HTTPServer struct {
	srv     *http.Server
	tls     bool
	drainer Drainer
	stop    func()
}

// NewHTTPServer 創建 HTTP 伺服器。stop 在關閉後呼叫，可為 nil。
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler, tlsConfig *tls.Config, drainer Drainer, stop func()) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              cfg.Host + ":" + cfg.Port,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.Timeout) * time.Second,
			// WebSocket 為長連線，由 writePump 自行設定寫入期限
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		tls:     tlsConfig != nil,
		drainer: drainer,
		stop:    stop,
	}
}

// Start 開始監聽，正常關閉時回傳 nil
func (s *HTTPServer) Start() error {
	ctx := context.Background()
	logger.Infof(ctx, "伺服器正在監聽 %s (TLS: %v)", s.srv.Addr, s.tls)

	var err error
	if s.tls {
		// 憑證已在 TLSConfig 中
		err = s.srv.ListenAndServeTLS("", "")
	} else {
		err = s.srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 先關閉 WebSocket 連線，再優雅關閉 HTTP 伺服器
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	logger.Info(ctx, "收到關閉信號，正在優雅關閉伺服器...", logger.WithAction("shutdown"))

	if s.drainer != nil {
		s.drainer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	if s.stop != nil {
		s.stop()
	}
	if err != nil {
		logger.Errorf(ctx, "伺服器關閉失敗: %v", err)
		return err
	}
	logger.Info(ctx, "伺服器已優雅關閉")
	return nil
}
