// Package grpcclient 供其他後端服務呼叫 chat.v1.NotificationService
package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	chatgrpc "chat-relay/internal/grpc"
	"chat-relay/internal/platform/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// NotifyRequest 建立通知請求
type NotifyRequest struct {
	Kind       string
	FromUserID string
	ToUserID   string
	PostID     string
	MessageID  string
	Text       string
}

// NotifyResult 建立通知結果；Created 為 false 時代表已有相同的未讀訊息通知
type NotifyResult struct {
	Created        bool
	NotificationID string
	CreatedAt      time.Time
}

// Client 通知服務客戶端
type Client struct {
	conn *grpc.ClientConn
}

// Dial 連線到通知服務。token 會以 authorization: Bearer 帶在每個呼叫上。
func Dial(address, token string, tlsConfig config.TLSConfig) (*Client, error) {
	var opts []grpc.DialOption
	if tlsConfig.Enabled {
		creds, err := clientTLS(tlsConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(serviceToken{token: token, requireTLS: tlsConfig.Enabled}))
	}

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn 使用既有連線
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close 關閉連線
func (c *Client) Close() error {
	return c.conn.Close()
}

// Notify 呼叫 Notify
func (c *Client) Notify(ctx context.Context, req NotifyRequest) (*NotifyResult, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"kind":         req.Kind,
		"from_user_id": req.FromUserID,
		"to_user_id":   req.ToUserID,
		"post_id":      req.PostID,
		"message_id":   req.MessageID,
		"text":         req.Text,
	})
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, chatgrpc.NotifyMethod, in, out); err != nil {
		return nil, err
	}

	fields := out.GetFields()
	result := &NotifyResult{Created: fields["created"].GetBoolValue()}
	if n := fields["notification"].GetStructValue(); n != nil {
		result.NotificationID = n.GetFields()["id"].GetStringValue()
		if raw := n.GetFields()["created_at"].GetStringValue(); raw != "" {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				result.CreatedAt = t
			}
		}
	}
	return result, nil
}

// UnreadCount 呼叫 UnreadCount
func (c *Client) UnreadCount(ctx context.Context, userID string) (int64, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"user_id": userID})
	if err != nil {
		return 0, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, chatgrpc.UnreadCountMethod, in, out); err != nil {
		return 0, err
	}
	return int64(out.GetFields()["count"].GetNumberValue()), nil
}

// serviceToken 實作 credentials.PerRPCCredentials
type serviceToken struct {
	token      string
	requireTLS bool
}

func (s serviceToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + s.token}, nil
}

func (s serviceToken) RequireTransportSecurity() bool {
	return s.requireTLS
}

// clientTLS 有客戶端憑證時使用雙向 TLS，否則只驗證服務器憑證
func clientTLS(tlsConfig config.TLSConfig) (credentials.TransportCredentials, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsConfig.CAFile != "" {
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		cfg.RootCAs = pool
	}

	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(cfg), nil
}
