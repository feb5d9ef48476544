package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		cfg            authConfig
		reqUsername    string
		reqPassword    string
		reqToken       string
		bearer         string
		expectedStatus int
	}{
		{name: "no auth configured - allows request", expectedStatus: http.StatusOK},
		{name: "valid basic auth", cfg: authConfig{adminUsername: "admin", adminPassword: "secret123"}, reqUsername: "admin", reqPassword: "secret123", expectedStatus: http.StatusOK},
		{name: "invalid basic auth password", cfg: authConfig{adminUsername: "admin", adminPassword: "secret123"}, reqUsername: "admin", reqPassword: "wrong", expectedStatus: http.StatusUnauthorized},
		{name: "valid token header", cfg: authConfig{adminToken: "tok-12345"}, reqToken: "tok-12345", expectedStatus: http.StatusOK},
		{name: "valid bearer token", cfg: authConfig{adminToken: "tok-12345"}, bearer: "tok-12345", expectedStatus: http.StatusOK},
		{name: "invalid token", cfg: authConfig{adminToken: "tok-12345"}, reqToken: "nope", expectedStatus: http.StatusUnauthorized},
		{name: "token wins over bad basic auth", cfg: authConfig{adminUsername: "admin", adminPassword: "secret123", adminToken: "tok-12345"}, reqToken: "tok-12345", reqUsername: "x", reqPassword: "y", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.enabled = (cfg.adminUsername != "" && cfg.adminPassword != "") || cfg.adminToken != ""

			req := httptest.NewRequest(http.MethodGet, "/api/twitch/token", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rr := httptest.NewRecorder()
			adminAuth(okHandler(), &cfg).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(context.Background(), &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute})
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.allow("192.168.1.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
		now = now.Add(10 * time.Second)
	}
	ok, retry := limiter.allow("192.168.1.1")
	if ok {
		t.Fatal("request 4 should be denied")
	}
	if retry != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", retry)
	}
	if ok, _ := limiter.allow("192.168.1.2"); !ok {
		t.Error("other clients have their own window")
	}

	now = now.Add(31 * time.Second)
	if ok, _ := limiter.allow("192.168.1.1"); !ok {
		t.Error("oldest request left the window; should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	for _, cfg := range []*rateLimiterConfig{
		{enabled: false, requestsPerIP: 1, window: time.Second},
		newRateLimiterConfig(0, time.Minute),
	} {
		limiter := newIPRateLimiter(context.Background(), cfg)
		for i := 0; i < 50; i++ {
			if ok, _ := limiter.allow("192.168.1.1"); !ok {
				t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
			}
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Now()
	limiter := newIPRateLimiter(context.Background(), &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Second})
	limiter.now = func() time.Time { return now }
	limiter.allow("10.0.0.1")
	now = now.Add(3 * time.Second)
	limiter.cleanup()
	if len(limiter.visitors) != 0 {
		t.Errorf("stale visitor not removed: %d left", len(limiter.visitors))
	}
}

func TestRateLimitMiddlewareClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
	}{
		{"ipv4 with port", "192.168.1.1:12345", ""},
		{"forwarded chain uses first hop", "10.0.0.1:12345", "203.0.113.1, 10.0.0.2"},
		{"ipv6 with port", "[2001:db8::1]:12345", ""},
		{"forwarded ipv6 without port", "127.0.0.1:8080", "2001:db8::42"},
		{"forwarded ipv4 without port", "10.0.0.1:8080", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := newIPRateLimiter(context.Background(), newRateLimiterConfig(2, time.Minute))
			handler := rateLimitMiddleware(okHandler(), limiter)

			codes := make([]int, 3)
			for i := range codes {
				req := httptest.NewRequest(http.MethodGet, "/api/twitch/token", nil)
				// vary the source port; the key must ignore it
				req.RemoteAddr = tt.remoteAddr
				if tt.forwarded == "" {
					host, _, err := net.SplitHostPort(tt.remoteAddr)
					if err != nil {
						t.Fatal(err)
					}
					req.RemoteAddr = net.JoinHostPort(host, strconv.Itoa(40000+i))
				}
				if tt.forwarded != "" {
					req.Header.Set("X-Forwarded-For", tt.forwarded)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				codes[i] = rr.Code
				if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") == "" {
					t.Error("expected Retry-After header on 429 response")
				}
			}
			if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
				t.Errorf("codes = %v, want [200 200 429]", codes)
			}
		})
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		cfg               corsConfig
		requestOrigin     string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{"permissive mode allows all origins", corsConfig{permissive: true}, "https://example.com", "*", false},
		{"restricted mode with matching origin", corsConfig{allowedOrigins: []string{"https://dash.example.com"}}, "https://dash.example.com", "https://dash.example.com", true},
		{"restricted mode with non-matching origin", corsConfig{allowedOrigins: []string{"https://example.com"}}, "https://evil.com", "", false},
		{"wildcard subdomain matching", corsConfig{allowedOrigins: []string{"*.example.com"}}, "https://app.example.com", "https://app.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			req := httptest.NewRequest(http.MethodGet, "/api/channels/42", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rr := httptest.NewRecorder()
			withCORSConfig(okHandler(), &cfg).ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
			if tt.expectCredentials && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true for restricted mode")
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/channels/42", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" || rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("expected Allow-Methods and Allow-Headers on OPTIONS response")
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantEnabled bool
	}{
		{"no auth configured", nil, false},
		{"username without password", map[string]string{"ADMIN_USERNAME": "admin"}, false},
		{"basic auth", map[string]string{"ADMIN_USERNAME": "admin", "ADMIN_PASSWORD": "secret"}, true},
		{"token auth", map[string]string{"ADMIN_TOKEN": "tok"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN"} {
				t.Setenv(k, tt.env[k])
			}
			if got := loadAuthConfig().enabled; got != tt.wantEnabled {
				t.Errorf("expected enabled=%v, got %v", tt.wantEnabled, got)
			}
		})
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		env            map[string]string
		wantPermissive bool
		wantOrigins    int
	}{
		{"default dev mode", nil, true, 0},
		{"production mode", map[string]string{"ENV": "production"}, false, 0},
		{"production with allowed origins", map[string]string{"ENV": "production", "CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com,"}, false, 2},
		{"explicit permissive override", map[string]string{"ENV": "production", "CORS_PERMISSIVE": "true"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS"} {
				t.Setenv(k, tt.env[k])
			}
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive {
				t.Errorf("expected permissive=%v, got %v", tt.wantPermissive, cfg.permissive)
			}
			if len(cfg.allowedOrigins) != tt.wantOrigins {
				t.Errorf("expected %d allowed origins, got %d", tt.wantOrigins, len(cfg.allowedOrigins))
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker(&corsConfig{allowedOrigins: []string{"https://dash.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/api/transcripts/ws", nil)
	if !check(req) {
		t.Error("requests without Origin (non-browser clients) should pass")
	}
	req.Header.Set("Origin", "https://evil.com")
	if check(req) {
		t.Error("unlisted origin should be rejected")
	}
	req.Header.Set("Origin", "https://dash.example.com")
	if !check(req) {
		t.Error("listed origin should pass")
	}
}
