// Package grpc 提供後端服務之間使用的通知 gRPC 介面。
// 訊息型別為 google.protobuf.Struct，不需要產生的 stub。
package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// gRPC 服務與方法名稱
const (
	ServiceName       = "chat.v1.NotificationService"
	NotifyMethod      = "/" + ServiceName + "/Notify"
	UnreadCountMethod = "/" + ServiceName + "/UnreadCount"
)

// NotificationServer 通知服務
type NotificationServer interface {
	Notify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UnreadCount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc chat.v1.NotificationService 描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NotificationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Notify", Handler: unaryHandler(NotifyMethod, NotificationServer.Notify)},
		{MethodName: "UnreadCount", Handler: unaryHandler(UnreadCountMethod, NotificationServer.UnreadCount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chat/v1/notification.proto",
}

type structMethod func(NotificationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NotificationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(NotificationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server gRPC 服務器
type Server struct {
	grpcServer *grpc.Server
	notifier   *chat.Notifier
}

// NewServer 創建 gRPC 服務器。serviceTokens 為空時不檢查呼叫端身份（僅限本地開發）。
func NewServer(notifier *chat.Notifier, serviceTokens []string, opts ...grpc.ServerOption) *Server {
	ctx := context.Background()
	if len(serviceTokens) > 0 {
		opts = append(opts, grpc.UnaryInterceptor(middleware.ServiceTokenInterceptor(serviceTokens)))
	} else {
		logger.Warning(ctx, "gRPC 未設定 service token，所有呼叫都會被接受（開發環境）")
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		notifier:   notifier,
	}
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// Start 啟動 gRPC 服務器
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Infof(context.Background(), "gRPC 服務器啟動在 %s", addr)
	return s.Serve(lis)
}

// Serve 在指定 listener 上提供服務
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop 停止 gRPC 服務器
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Notify 由貼文服務呼叫，建立 like / comment / follow / message 通知。
// 請求欄位: kind, from_user_id, to_user_id, post_id, message_id, text
func (s *Server) Notify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.Notify"

	fields := req.GetFields()
	kind, err := chat.ParseNotificationKind(op, stringField(fields, "kind"))
	if err != nil {
		return nil, toStatus(err)
	}

	n, created, err := s.notifier.NotifyIfNeeded(ctx, kind,
		stringField(fields, "from_user_id"),
		stringField(fields, "to_user_id"),
		chat.NotificationRef{
			MessageID: stringField(fields, "message_id"),
			PostID:    stringField(fields, "post_id"),
			Text:      stringField(fields, "text"),
		},
	)
	if err != nil {
		logger.Warning(ctx, "gRPC 建立通知失敗", logger.WithAction("grpc_notify"), logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return nil, toStatus(err)
	}

	out := map[string]interface{}{"created": created}
	if n != nil {
		out["notification"] = map[string]interface{}{
			"id":           n.ID,
			"kind":         string(n.Kind),
			"from_user_id": n.FromUserID,
			"to_user_id":   n.ToUserID,
			"text":         n.Text,
			"read":         n.Read,
			"created_at":   formatTimestamp(n.CreatedAt),
		}
	}
	return newStruct(out)
}

// UnreadCount 請求欄位: user_id
func (s *Server) UnreadCount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(req.GetFields(), "user_id")
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "缺少 user_id")
	}

	count, err := s.notifier.UnreadCount(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{"user_id": userID, "count": count})
}

func stringField(fields map[string]*structpb.Value, key string) string {
	return strings.TrimSpace(fields[key].GetStringValue())
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "回應編碼失敗: %v", err)
	}
	return out, nil
}

// formatTimestamp 以 protobuf Timestamp 的 RFC3339 格式輸出
func formatTimestamp(t time.Time) string {
	ts := timestamppb.New(t)
	if err := ts.CheckValid(); err != nil {
		return ""
	}
	return ts.AsTime().Format(time.RFC3339Nano)
}

// toStatus 將領域錯誤轉為 gRPC 狀態碼
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}

	msg := chat.PublicMessage(err)
	switch chat.KindOf(err) {
	case chat.KindValidation:
		return status.Error(codes.InvalidArgument, msg)
	case chat.KindAuthentication:
		return status.Error(codes.Unauthenticated, msg)
	case chat.KindAuthorization:
		return status.Error(codes.PermissionDenied, msg)
	case chat.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case chat.KindTransientStore:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
