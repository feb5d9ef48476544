package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

const (
	// expiryBuffer is subtracted from the token lifetime when deciding reuse.
	expiryBuffer = 60 * time.Second
	// defaultLifetime applies when the token endpoint omits expires_in.
	defaultLifetime = 60 * time.Minute

	defaultValidateURL = "https://id.twitch.tv/oauth2/validate"
)

// AppTokenSource fetches and caches a Twitch app access (client credentials) token.
// The cache is a single atomically swapped slot. Concurrent refreshes may each
// fetch a token; the last write wins and every fetched token is valid.
type AppTokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides the Twitch token endpoint (tests).
	TokenURL string
	// ValidateURL overrides the Twitch validate endpoint (tests).
	ValidateURL string

	now func() time.Time

	slot atomic.Pointer[cachedToken]
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func (ts *AppTokenSource) clock() time.Time {
	if ts.now != nil {
		return ts.now()
	}
	return time.Now()
}

func (ts *AppTokenSource) cached() (string, bool) {
	c := ts.slot.Load()
	if c != nil && c.value != "" && c.expiresAt.Sub(ts.clock()) > expiryBuffer {
		return c.value, true
	}
	return "", false
}

// Get returns a valid (fresh or cached) app access token.
func (ts *AppTokenSource) Get(ctx context.Context) (string, error) {
	if tok, ok := ts.cached(); ok {
		return tok, nil
	}
	return ts.refresh(ctx)
}

func (ts *AppTokenSource) refresh(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = twitch.Endpoint.TokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = ts.clock().Add(defaultLifetime)
	}
	ts.SetToken(tok.AccessToken, expiresAt)
	slog.Debug("twitch app token refreshed", slog.String("token", Mask(tok.AccessToken)), slog.Time("expires_at", expiresAt))
	return tok.AccessToken, nil
}

// SetToken seeds the cache slot.
func (ts *AppTokenSource) SetToken(token string, expiresAt time.Time) {
	ts.slot.Store(&cachedToken{value: token, expiresAt: expiresAt})
}

// Invalidate clears the cached token so the next Get fetches a new one.
func (ts *AppTokenSource) Invalidate() {
	ts.slot.Store(nil)
}

// ExpiresAt returns the cached token's expiry, zero if none is cached.
func (ts *AppTokenSource) ExpiresAt() time.Time {
	if c := ts.slot.Load(); c != nil {
		return c.expiresAt
	}
	return time.Time{}
}

// TokenInfo is the subset of the validate endpoint response we surface.
type TokenInfo struct {
	Valid     bool     `json:"valid"`
	ClientID  string   `json:"client_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresIn int      `json:"expires_in,omitempty"`
}

// Validate asks Twitch whether token is still accepted. A 401 is reported as
// an invalid token, not an error.
func (ts *AppTokenSource) Validate(ctx context.Context, token string) (TokenInfo, error) {
	u := ts.ValidateURL
	if u == "" {
		u = defaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return TokenInfo{}, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return TokenInfo{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch resp.StatusCode {
	case http.StatusOK:
		var info TokenInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return TokenInfo{}, err
		}
		info.Valid = true
		return info, nil
	case http.StatusUnauthorized:
		return TokenInfo{Valid: false}, nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TokenInfo{}, &HTTPStatusError{StatusCode: resp.StatusCode, URL: u, Body: string(b)}
	}
}

// Mask returns a log-safe rendition of a secret.
func Mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
