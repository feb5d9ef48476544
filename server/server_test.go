package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/eventsub"
	"github.com/angelotc/stream-pal-ai/testutil"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type nopChat struct{}

func (nopChat) HandleChat(context.Context, domain.Event) error { return nil }

type env struct {
	mock     *testutil.MockTwitchServer
	channels *testutil.MemoryChannelStore
	handler  http.Handler
}

func clearAdminEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN", "ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_ENABLED"} {
		t.Setenv(k, "")
	}
}

func newEnv(t *testing.T, tweak func(*Deps), states ...domain.ChannelState) *env {
	t.Helper()
	clearAdminEnv(t)
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-tok", 3600)
	mock.MockUserResponse("42", "streamer")
	mock.MockStreamsResponse([]map[string]interface{}{{"type": "live"}})
	mock.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth app-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"client_id":"cid","scopes":[],"expires_in":3500}`))
	}

	ts := &twitchapi.AppTokenSource{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     mock.URL + "/oauth2/token",
		ValidateURL:  mock.URL + "/oauth2/validate",
	}
	helix := &twitchapi.HelixClient{AppTokenSource: ts, ClientID: "cid", BaseURL: mock.HelixURL()}
	channels := testutil.NewMemoryChannelStore(states...)
	mgr := eventsub.NewManager(helix, channels, eventsub.ManagerConfig{
		CallbackURL: "https://bot.example/api/twitch/webhook",
		Secret:      "s3cret",
		BotUserID:   "99",
	})
	deps := Deps{
		DB:                     fakePinger{},
		Webhook:                eventsub.NewWebhookHandler("s3cret", mgr, nopChat{}),
		Tokens:                 ts,
		Subscriptions:          mgr,
		Channels:               channels,
		Users:                  helix,
		Transcripts:            nopChat{},
		TokenRateLimitRequests: 30,
		TokenRateLimitWindow:   time.Minute,
	}
	if tweak != nil {
		tweak(&deps)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &env{mock: mock, channels: channels, handler: NewMux(ctx, deps)}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5555"
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body=%s", rr.Body.String())
}

func enabledTypes(subs []twitchapi.Subscription) []string {
	var out []string
	for _, s := range subs {
		if s.Status == "enabled" {
			out = append(out, s.Type)
		}
	}
	return out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))

	down := newEnv(t, func(d *Deps) { d.DB = fakePinger{err: errors.New("conn refused")} })
	require.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestReadyz(t *testing.T) {
	e := newEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	noWebhook := newEnv(t, func(d *Deps) { d.Webhook = nil })
	rr = noWebhook.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp map[string]string
	decodeBody(t, rr, &resp)
	require.Equal(t, "webhook", resp["failed_check"])
}

func TestStartAndShutdown(t *testing.T) {
	clearAdminEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Deps{DB: fakePinger{}}, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestTokenEndpoint(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.TokenRateLimitRequests = 2 })

	rr := e.do(t, http.MethodGet, "/api/twitch/token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	decodeBody(t, rr, &body)
	require.Equal(t, "app-tok", body["accessToken"])
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/twitch/token", "").Code)
	require.Equal(t, http.StatusTooManyRequests, e.do(t, http.MethodGet, "/api/twitch/token", "").Code)
	require.Equal(t, 1, e.mock.Calls("POST /oauth2/token"), "token must be cached between requests")
}

func TestTokenEndpointRequiresAdmin(t *testing.T) {
	clearAdminEnv(t)
	t.Setenv("ADMIN_TOKEN", "letmein")
	e := &env{handler: NewMux(context.Background(), Deps{Tokens: &twitchapi.AppTokenSource{}})}

	require.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/twitch/token", "").Code)
}

func TestTokenValidate(t *testing.T) {
	e := newEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/api/twitch/token/validate", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var v tokenValidation
	decodeBody(t, rr, &v)
	require.True(t, v.Valid)
	require.Equal(t, "cid", v.ClientID)
	require.NotEqual(t, "app-tok", v.Token, "token must be masked")

	rr = e.do(t, http.MethodGet, "/api/twitch/token/validate?token=stale", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &v)
	require.False(t, v.Valid)
}

func TestBotToggle(t *testing.T) {
	e := newEnv(t, nil, domain.ChannelState{BroadcasterID: "42", IsLive: true})

	rr := e.do(t, http.MethodPost, "/api/twitch/subscriptions", `{"broadcasterId":"42","botEnabled":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res eventsub.Result
	decodeBody(t, rr, &res)
	require.ElementsMatch(t, []string{twitchapi.SubStreamOnline, twitchapi.SubStreamOffline, twitchapi.SubChatMessage}, res.Created)

	st, err := e.channels.Get(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, st.BotEnabled)

	rr = e.do(t, http.MethodPost, "/api/twitch/subscriptions", `{"broadcasterId":"42","botEnabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.ElementsMatch(t, []string{twitchapi.SubStreamOnline, twitchapi.SubStreamOffline}, enabledTypes(e.mock.Subscriptions()))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown channel", `{"broadcasterId":"7","botEnabled":true}`, http.StatusNotFound},
		{"missing toggle", `{"broadcasterId":"42"}`, http.StatusBadRequest},
		{"unknown field", `{"broadcasterId":"42","botEnabled":true,"extra":1}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, e.do(t, http.MethodPost, "/api/twitch/subscriptions", tt.body).Code)
		})
	}
	require.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodGet, "/api/twitch/subscriptions", "").Code)
}

func TestChannelLifecycle(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.DefaultCooldown = 10 })

	rr := e.do(t, http.MethodPost, "/api/channels", `{"broadcasterLogin":"Streamer"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var view channelView
	decodeBody(t, rr, &view)
	require.Equal(t, "42", view.BroadcasterID)
	require.Equal(t, "streamer", view.BroadcasterLogin)
	require.True(t, view.IsLive)
	require.False(t, view.BotEnabled)
	require.Equal(t, 10, view.CooldownSeconds)
	require.ElementsMatch(t, []string{twitchapi.SubStreamOnline, twitchapi.SubStreamOffline}, enabledTypes(e.mock.Subscriptions()))

	rr = e.do(t, http.MethodGet, "/api/channels/42", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/channels/7", "").Code)

	for _, bad := range []string{`{"cooldownSeconds":0}`, `{"cooldownSeconds":301}`, `{}`} {
		require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPatch, "/api/channels/42", bad).Code, bad)
	}

	rr = e.do(t, http.MethodPatch, "/api/channels/42", `{"cooldownSeconds":30,"botPrompt":"Be a pirate","botEnabled":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &view)
	require.Equal(t, 30, view.CooldownSeconds)
	require.Equal(t, "Be a pirate", view.BotPrompt)
	require.Contains(t, enabledTypes(e.mock.Subscriptions()), twitchapi.SubChatMessage)

	require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/channels", `{"broadcasterId":"43","cooldownSeconds":999}`).Code)
	require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/channels", `{}`).Code)
}

func TestWebhookRouted(t *testing.T) {
	e := newEnv(t, nil)
	body := []byte(`{"challenge":"pogchamp","subscription":{"id":"s1","type":"stream.online","version":"1","status":"webhook_callback_verification_pending","condition":{"broadcaster_user_id":"42"}}}`)
	ts := time.Now().UTC().Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, "/api/twitch/webhook", bytes.NewReader(body))
	req.Header.Set(eventsub.HeaderMessageID, "m1")
	req.Header.Set(eventsub.HeaderMessageTimestamp, ts)
	req.Header.Set(eventsub.HeaderMessageType, eventsub.MessageTypeVerification)
	req.Header.Set(eventsub.HeaderMessageSignature, eventsub.Sign([]byte("s3cret"), "m1", ts, body))
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "pogchamp", rr.Body.String())
}
