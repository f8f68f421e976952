package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	server := NewServer(cfg, nil, nil, nil, nil)
	return server.Handler()
}

func TestHealthIsPublic(t *testing.T) {
	handler := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireJWT(t *testing.T) {
	handler := testHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"search requires jwt", http.MethodPost, "/rag/search"},
		{"expand requires jwt", http.MethodPost, "/rag/expand"},
		{"cache stats requires jwt", http.MethodGet, "/rag/cache/stats"},
		{"datasets requires jwt", http.MethodGet, "/rag/datasets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for %s %s, got %d", tt.method, tt.path, rr.Code)
			}
		})
	}
}

func TestRejectsMalformedAuthHeader(t *testing.T) {
	handler := testHandler(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "tokenwithoutscheme"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rag/cache/stats", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestRejectsTokenWithoutScopeClaims(t *testing.T) {
	handler := testHandler(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/rag/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without org_id/tenant_id claims, got %d", rr.Code)
	}
}

func TestValidTokenPassesAuth(t *testing.T) {
	handler := testHandler(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "user-1",
		"org_id":    "org-1",
		"tenant_id": "tenant-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	// 查询缓存未配置时返回 503——但已通过鉴权
	req := httptest.NewRequest(http.MethodGet, "/rag/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusForbidden {
		t.Fatalf("valid token rejected with %d", rr.Code)
	}
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 (cache not configured), got %d", rr.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	handler := testHandler(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "user-1",
		"org_id":    "org-1",
		"tenant_id": "tenant-1",
		"exp":       time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/rag/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}
