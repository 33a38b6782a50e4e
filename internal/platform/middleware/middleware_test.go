package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
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

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthenticator(issuer string) *Authenticator {
	return NewAuthenticator(config.AuthenticationConfig{JWTSecret: "test-secret", Issuer: issuer}, audit.NewAuditService(false))
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestVerify(t *testing.T) {
	a := newAuthenticator("")
	future := time.Now().Add(time.Hour).Unix()

	issued, err := a.Issue("u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "issued", token: issued, want: "u1"},
		{name: "userId claim", token: sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"userId": "u2", "exp": future}), want: "u2"},
		{name: "sub claim", token: sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"sub": "u3"}), want: "u3"},
		{name: "empty", token: "", wantErr: true},
		{name: "wrong secret", token: sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"id": "u1"}), wantErr: true},
		{name: "wrong algorithm", token: sign(t, jwt.SigningMethodHS512, []byte("test-secret"), jwt.MapClaims{"id": "u1"}), wantErr: true},
		{name: "expired", token: sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"id": "u1", "exp": time.Now().Add(-time.Minute).Unix()}), wantErr: true},
		{name: "no user", token: sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"exp": future}), wantErr: true},
		{name: "garbage", token: "not.a.jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Verify(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Verify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerifyIssuer(t *testing.T) {
	a := newAuthenticator("identity")
	ok := sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"id": "u1", "iss": "identity"})
	bad := sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{"id": "u1", "iss": "someone-else"})

	if _, err := a.Verify(ok); err != nil {
		t.Errorf("正確 issuer 應通過: %v", err)
	}
	if _, err := a.Verify(bad); err == nil {
		t.Errorf("錯誤 issuer 應被拒絕")
	}
}

func TestGinMiddleware(t *testing.T) {
	a := newAuthenticator("")
	token, _ := a.Issue("alice", time.Hour)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/me", a.GinMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + token, status: http.StatusOK, body: "alice"},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusOK, body: "alice"},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "basic", header: "Basic abc", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q", w.Body.String())
			}
			if w.Header().Get(RequestIDHeader) == "" {
				t.Errorf("缺少 %s 回應標頭", RequestIDHeader)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, audit.NewAuditService(false))
	defer rl.Stop()

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatalf("前兩次請求應允許")
	}
	if rl.Allow("u1") {
		t.Errorf("超過額度應拒絕")
	}
	if !rl.Allow("u2") {
		t.Errorf("不同用戶應各自計算")
	}

	r := gin.New()
	r.GET("/x", rl.Middleware("/x"), func(c *gin.Context) { c.Status(http.StatusOK) })
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.9")
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("第三次請求狀態 = %v", codes)
	}
}

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(2, 3)

	if !l.Acquire("a") || !l.Acquire("a") {
		t.Fatalf("同一 IP 前兩條連線應允許")
	}
	if l.Acquire("a") {
		t.Errorf("超過單一 IP 上限應拒絕")
	}
	if !l.Acquire("b") {
		t.Fatalf("其他 IP 應允許")
	}
	if l.Acquire("c") {
		t.Errorf("超過全域上限應拒絕")
	}

	l.Release("a")
	if !l.Acquire("c") {
		t.Errorf("釋放後應允許新連線")
	}
	l.Release("unknown")
	if got := l.Stats()["total_connections"]; got != 3 {
		t.Errorf("total_connections = %v", got)
	}
}

func TestServiceTokenInterceptor(t *testing.T) {
	interceptor := ServiceTokenInterceptor([]string{"svc-token"})
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	tests := []struct {
		name string
		ctx  context.Context
		code codes.Code
	}{
		{name: "valid", ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer svc-token")), code: codes.OK},
		{name: "no metadata", ctx: context.Background(), code: codes.Unauthenticated},
		{name: "no token", ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs()), code: codes.Unauthenticated},
		{name: "wrong token", ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope")), code: codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interceptor(tt.ctx, nil, info, handler)
			if got := status.Code(err); got != tt.code {
				t.Errorf("code = %v, want %v", got, tt.code)
			}
		})
	}
}

func TestGetClientIPAndValidation(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := GetClientIP(c); got != "203.0.113.5" {
		t.Errorf("GetClientIP = %q", got)
	}

	for _, bad := range []string{"", "  ", "a$b", "{x}", string(make([]byte, 200))} {
		if err := ValidateUserID(bad); err == nil {
			t.Errorf("ValidateUserID(%q) 應失敗", bad)
		}
	}
	if err := ValidateUserID("507f1f77bcf86cd799439011"); err != nil {
		t.Errorf("ValidateUserID 合法 ID 失敗: %v", err)
	}
	if got := SanitizeInput("a\x00b\x07c\nd"); got != "abc\nd" {
		t.Errorf("SanitizeInput = %q", got)
	}
}
