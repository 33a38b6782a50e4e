package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ContextUserID gin context 中存放已驗證用戶 ID 的鍵
const ContextUserID = "user_id"

var errMissingToken = errors.New("未提供認證 token")

// Authenticator 驗證身份服務簽發的 HS256 JWT
type Authenticator struct {
	secret []byte
	issuer string
	audit  *audit.AuditService
}

// NewAuthenticator 創建 JWT 驗證器
func NewAuthenticator(cfg config.AuthenticationConfig, auditSvc *audit.AuditService) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		audit:  auditSvc,
	}
}

// Verify 驗證 token 並回傳用戶 ID
func (a *Authenticator) Verify(raw string) (string, error) {
	if raw == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("無效的 token: %w", err)
	}

	// 身份服務曾以 id、userId 或 sub 放置用戶 ID
	for _, key := range []string{"id", "userId", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errors.New("token 缺少用戶 ID")
}

// Issue 簽發 token，供測試與內部工具使用
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// BearerToken 解析 Authorization 標頭
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GinMiddleware 要求有效 JWT，通過後將用戶 ID 存入 context
func (a *Authenticator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.Verify(BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			a.audit.LogAuthenticationFailure(c.Request.Context(), err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{
				"success":    false,
				"message":    "認證失敗",
				"error_code": "UNAUTHORIZED",
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID 取得已驗證的用戶 ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// ServiceTokenInterceptor 內部服務呼叫 gRPC 時需帶 authorization: Bearer <service token>
func ServiceTokenInterceptor(tokens []string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證信息")
		}

		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證 token")
		}

		presented := []byte(strings.TrimPrefix(values[0], "Bearer "))
		for _, token := range tokens {
			if token != "" && subtle.ConstantTimeCompare(presented, []byte(token)) == 1 {
				return handler(ctx, req)
			}
		}
		return nil, status.Errorf(codes.Unauthenticated, "認證失敗")
	}
}
