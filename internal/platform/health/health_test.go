package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fixedSessions int

func (f fixedSessions) SessionCount() int { return int(f) }

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		ping       Pinger
		wantStatus string
		wantDB     string
	}{
		{"healthy", func(context.Context) error { return nil }, statusHealthy, statusHealthy},
		{"db down", func(context.Context) error { return errors.New("no reachable servers") }, statusDegraded, statusUnhealthy},
		{"no db", nil, statusDegraded, statusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", NewHealthHandler(tt.ping, fixedSessions(3), "chat-relay", "chat", false).HealthCheck)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}

			var body struct {
				Status   string `json:"status"`
				Database struct {
					Status string `json:"status"`
				} `json:"database"`
				Realtime struct {
					Sessions int `json:"sessions"`
				} `json:"realtime"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus || body.Database.Status != tt.wantDB || body.Realtime.Sessions != 3 {
				t.Errorf("body = %+v", body)
			}
		})
	}
}
