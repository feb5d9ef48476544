package eventsub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelotc/stream-pal-ai/domain"
)

const testSecret = "webhook-secret"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLifecycle struct {
	online, offline int
	revoked         []Revocation
	err             error
}

func (f *fakeLifecycle) HandleStreamOnline(context.Context, StreamOnline) error {
	f.online++
	return f.err
}

func (f *fakeLifecycle) HandleStreamOffline(context.Context, StreamOffline) error {
	f.offline++
	return f.err
}

func (f *fakeLifecycle) HandleRevocation(_ context.Context, n Revocation) {
	f.revoked = append(f.revoked, n)
}

type fakeChat struct {
	events []domain.Event
	err    error
}

func (f *fakeChat) HandleChat(_ context.Context, ev domain.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func signedRequest(msgType, body string, sentAt time.Time) *http.Request {
	ts := sentAt.Format(time.RFC3339Nano)
	r := httptest.NewRequest(http.MethodPost, "/api/twitch/webhook", strings.NewReader(body))
	r.Header.Set(HeaderMessageID, "msg-1")
	r.Header.Set(HeaderMessageTimestamp, ts)
	r.Header.Set(HeaderMessageType, msgType)
	r.Header.Set(HeaderMessageSignature, Sign([]byte(testSecret), "msg-1", ts, []byte(body)))
	return r
}

func newTestWebhook(lc Lifecycle, chat ChatHandler) *WebhookHandler {
	return NewWebhookHandler(testSecret, lc, chat, WithClock(func() time.Time { return testNow }))
}

const chatBody = `{"subscription":{"type":"channel.chat.message"},"event":{"broadcaster_user_id":"42","chatter_user_id":"7","chatter_user_name":"alice","message_id":"m-1","message":{"text":"hi"}}}`

func TestWebhook_VerificationEchoesChallenge(t *testing.T) {
	h := newTestWebhook(&fakeLifecycle{}, &fakeChat{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(MessageTypeVerification, `{"challenge":"pogchamp-kappa-360noscope","subscription":{"type":"stream.online"}}`, testNow))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	require.Equal(t, "pogchamp-kappa-360noscope", w.Body.String())
}

func TestWebhook_ChatNotificationDispatched(t *testing.T) {
	chat := &fakeChat{}
	h := newTestWebhook(&fakeLifecycle{}, chat)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(MessageTypeNotification, chatBody, testNow))

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, chat.events, 1)
	require.Equal(t, "m-1", chat.events[0].ProviderMessageID)
	require.Equal(t, testNow, chat.events[0].CreatedAt)
}

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "bad signature",
			req: func() *http.Request {
				r := signedRequest(MessageTypeNotification, chatBody, testNow)
				r.Header.Set(HeaderMessageSignature, "sha256=00")
				return r
			},
			status: http.StatusForbidden,
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				r := signedRequest(MessageTypeNotification, chatBody, testNow)
				r.Body = http.NoBody
				return r
			},
			status: http.StatusForbidden,
		},
		{
			name: "missing signature header",
			req: func() *http.Request {
				r := signedRequest(MessageTypeNotification, chatBody, testNow)
				r.Header.Del(HeaderMessageSignature)
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing type header",
			req: func() *http.Request {
				r := signedRequest(MessageTypeNotification, chatBody, testNow)
				r.Header.Del(HeaderMessageType)
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "stale message",
			req:    func() *http.Request { return signedRequest(MessageTypeNotification, chatBody, testNow.Add(-11*time.Minute)) },
			status: http.StatusForbidden,
		},
		{
			name:   "malformed payload",
			req:    func() *http.Request { return signedRequest(MessageTypeNotification, `{"subscription":{"type":"channel.chat.message"},"event":{}}`, testNow) },
			status: http.StatusBadRequest,
		},
		{
			name: "wrong method",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/twitch/webhook", nil)
			},
			status: http.StatusMethodNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			h := newTestWebhook(&fakeLifecycle{}, chat)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.req())
			require.Equal(t, tt.status, w.Code)
			require.Empty(t, chat.events, "rejected delivery reached the chat handler")
		})
	}
}

func TestWebhook_StreamEventsAndRevocation(t *testing.T) {
	lc := &fakeLifecycle{}
	h := newTestWebhook(lc, &fakeChat{})

	for _, tc := range []struct{ typ, body string }{
		{MessageTypeNotification, `{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_id":"42"}}`},
		{MessageTypeNotification, `{"subscription":{"type":"stream.offline"},"event":{"broadcaster_user_id":"42"}}`},
		{MessageTypeRevocation, `{"subscription":{"id":"s1","type":"stream.online","status":"user_removed"}}`},
		{MessageTypeNotification, `{"subscription":{"type":"channel.follow"},"event":{"user_id":"1"}}`},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, signedRequest(tc.typ, tc.body, testNow))
		require.Equal(t, http.StatusNoContent, w.Code, tc.body)
	}
	require.Equal(t, 1, lc.online)
	require.Equal(t, 1, lc.offline)
	require.Len(t, lc.revoked, 1)
	require.Equal(t, "user_removed", lc.revoked[0].Subscription.Status)
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"upstream failure acknowledged", domain.NewError(domain.KindUpstream, "send", errors.New("boom")), http.StatusNoContent},
		{"store failure retried", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestWebhook(&fakeLifecycle{err: tt.err}, &fakeChat{err: tt.err})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, signedRequest(MessageTypeNotification, chatBody, testNow))
			require.Equal(t, tt.status, w.Code)

			w = httptest.NewRecorder()
			h.ServeHTTP(w, signedRequest(MessageTypeNotification, `{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_id":"42"}}`, testNow))
			require.Equal(t, tt.status, w.Code)
		})
	}
}
