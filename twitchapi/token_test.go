package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "test-client" {
			t.Errorf("client_id = %q, want test-client", r.Form.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		body := map[string]interface{}{
			"access_token": "test-token-" + string(rune('0'+n)),
			"token_type":   "bearer",
		}
		if expiresIn > 0 {
			body["expires_in"] = expiresIn
		}
		json.NewEncoder(w).Encode(body)
	}))
}

func TestAppTokenSource_GetCached(t *testing.T) {
	var calls int32
	server := newTokenServer(t, &calls, 3600)
	defer server.Close()

	ts := &AppTokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}

	token1, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-1" {
		t.Errorf("Get() = %s, want test-token-1", token1)
	}
	token2, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if calls != 1 {
		t.Errorf("expected 1 token request, got %d", calls)
	}
}

func TestAppTokenSource_RefreshInsideBuffer(t *testing.T) {
	var calls int32
	server := newTokenServer(t, &calls, 3600)
	defer server.Close()

	ts := &AppTokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	// 30s left is inside the 60s buffer, so the cached token must not be reused.
	ts.SetToken("stale", time.Now().Add(30*time.Second))

	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok == "stale" {
		t.Error("token inside expiry buffer was reused")
	}
	if calls != 1 {
		t.Errorf("expected 1 token request, got %d", calls)
	}
}

func TestAppTokenSource_DefaultLifetime(t *testing.T) {
	var calls int32
	server := newTokenServer(t, &calls, 0)
	defer server.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := &AppTokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	ts.now = func() time.Time { return now }

	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got, want := ts.ExpiresAt(), now.Add(60*time.Minute); !got.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", got, want)
	}
}

func TestAppTokenSource_Invalidate(t *testing.T) {
	var calls int32
	server := newTokenServer(t, &calls, 3600)
	defer server.Close()

	ts := &AppTokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	ts.SetToken("old", time.Now().Add(time.Hour))
	ts.Invalidate()

	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "test-token-1" {
		t.Errorf("Get() after Invalidate = %s, want test-token-1", tok)
	}
}

func TestAppTokenSource_ConcurrentGet(t *testing.T) {
	var calls int32
	server := newTokenServer(t, &calls, 3600)
	defer server.Close()

	ts := &AppTokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Get(context.Background()); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if calls < 1 {
		t.Error("expected at least one token request")
	}
	// Once the slot is populated, further callers reuse it.
	before := atomic.LoadInt32(&calls)
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Error("populated slot was not reused")
	}
}

func TestAppTokenSource_MissingCredentials(t *testing.T) {
	ts := &AppTokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with missing credentials should error")
	}
}

func TestAppTokenSource_Validate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id":  "test-client",
			"scopes":     []string{},
			"expires_in": 5000,
		})
	}))
	defer server.Close()

	ts := &AppTokenSource{ValidateURL: server.URL}

	info, err := ts.Validate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !info.Valid || info.ClientID != "test-client" || info.ExpiresIn != 5000 {
		t.Errorf("Validate(good) = %+v", info)
	}

	info, err = ts.Validate(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.Valid {
		t.Error("Validate(bad) reported valid")
	}
}

func TestMask(t *testing.T) {
	if got := Mask("short"); got != "****" {
		t.Errorf("Mask(short) = %s", got)
	}
	if got := Mask("abcdefghijkl"); got != "abcd****ijkl" {
		t.Errorf("Mask(long) = %s", got)
	}
}
