package eventsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
)

const (
	defaultMaxAge   = 10 * time.Minute
	maxWebhookBytes = 1 << 20
)

// Lifecycle receives stream status and revocation notifications.
type Lifecycle interface {
	HandleStreamOnline(ctx context.Context, n StreamOnline) error
	HandleStreamOffline(ctx context.Context, n StreamOffline) error
	HandleRevocation(ctx context.Context, n Revocation)
}

// ChatHandler persists and reacts to a chat event. A returned error means the
// event could not be recorded and the delivery should be retried.
type ChatHandler interface {
	HandleChat(ctx context.Context, ev domain.Event) error
}

// WebhookHandler serves the EventSub callback.
type WebhookHandler struct {
	secret    []byte
	maxAge    time.Duration
	lifecycle Lifecycle
	chat      ChatHandler
	now       func() time.Time
}

type WebhookOption func(*WebhookHandler)

// WithMaxAge rejects deliveries whose timestamp is older than d. Zero disables the check.
func WithMaxAge(d time.Duration) WebhookOption {
	return func(h *WebhookHandler) { h.maxAge = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) { h.now = now }
}

func NewWebhookHandler(secret string, lifecycle Lifecycle, chat ChatHandler, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		secret:    []byte(secret),
		maxAge:    defaultMaxAge,
		lifecycle: lifecycle,
		chat:      chat,
		now:       time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "eventsub_webhook"))
	msgType := r.Header.Get(HeaderMessageType)
	status := http.StatusNoContent
	defer func() { telemetry.RecordWebhook(msgType, status) }()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		http.Error(w, "method not allowed", status)
		return
	}
	msgID := r.Header.Get(HeaderMessageID)
	ts := r.Header.Get(HeaderMessageTimestamp)
	sig := r.Header.Get(HeaderMessageSignature)
	if msgID == "" || ts == "" || msgType == "" || sig == "" {
		status = http.StatusBadRequest
		log.Warn("webhook missing headers", slog.Bool("id", msgID != ""), slog.Bool("timestamp", ts != ""), slog.Bool("type", msgType != ""), slog.Bool("signature", sig != ""))
		http.Error(w, "missing required headers", status)
		return
	}

	// Raw bytes; the signature covers the body exactly as sent.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil || len(body) > maxWebhookBytes {
		status = http.StatusBadRequest
		http.Error(w, "unreadable body", status)
		return
	}
	if err := Verify(h.secret, msgID, ts, sig, body); err != nil {
		status = http.StatusForbidden
		if telemetry.SignatureFailures != nil {
			telemetry.SignatureFailures.Inc()
		}
		log.Warn("webhook signature rejected", slog.String("message_id", msgID))
		http.Error(w, "invalid signature", status)
		return
	}
	if h.maxAge > 0 {
		sent, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			status = http.StatusBadRequest
			http.Error(w, "invalid timestamp", status)
			return
		}
		if h.now().Sub(sent) > h.maxAge {
			status = http.StatusForbidden
			log.Warn("webhook message too old", slog.String("message_id", msgID), slog.Time("sent", sent))
			http.Error(w, "stale message", status)
			return
		}
	}

	n, err := Parse(msgType, body)
	if err != nil {
		status = http.StatusBadRequest
		log.Warn("webhook payload rejected", slog.String("message_id", msgID), slog.Any("err", err))
		http.Error(w, "invalid payload", status)
		return
	}

	status = h.dispatch(ctx, log, msgID, n)
	switch status {
	case http.StatusOK:
		v := n.(Verification)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(v.Challenge))
	case http.StatusNoContent:
		w.WriteHeader(status)
	default:
		http.Error(w, "internal error", status)
	}
}

// dispatch returns the response status. Upstream failures are acknowledged
// with 204 so Twitch does not redeliver; failures to record state return 500.
func (h *WebhookHandler) dispatch(ctx context.Context, log *slog.Logger, msgID string, n Notification) int {
	switch v := n.(type) {
	case Verification:
		log.Info("webhook verification", slog.String("type", v.Subscription.Type), slog.String("id", v.Subscription.ID))
		return http.StatusOK
	case Revocation:
		if h.lifecycle != nil {
			h.lifecycle.HandleRevocation(ctx, v)
		}
		return http.StatusNoContent
	case StreamOnline:
		if h.lifecycle == nil {
			return http.StatusNoContent
		}
		return h.statusFor(log, "stream.online", h.lifecycle.HandleStreamOnline(ctx, v))
	case StreamOffline:
		if h.lifecycle == nil {
			return http.StatusNoContent
		}
		return h.statusFor(log, "stream.offline", h.lifecycle.HandleStreamOffline(ctx, v))
	case ChatMessage:
		if h.chat == nil {
			return http.StatusNoContent
		}
		return h.statusFor(log, "channel.chat.message", h.chat.HandleChat(ctx, v.Event(h.now().UTC())))
	case Other:
		log.Debug("webhook notification ignored", slog.String("type", v.Type), slog.String("message_id", msgID))
		return http.StatusNoContent
	}
	return http.StatusNoContent
}

func (h *WebhookHandler) statusFor(log *slog.Logger, what string, err error) int {
	if err == nil {
		return http.StatusNoContent
	}
	var de *domain.Error
	if errors.As(err, &de) && (de.Kind == domain.KindUpstream || de.Kind == domain.KindConflict) {
		log.Warn("webhook handled with upstream error", slog.String("type", what), slog.Any("err", err))
		return http.StatusNoContent
	}
	log.Error("webhook handling failed", slog.String("type", what), slog.Any("err", err))
	return http.StatusInternalServerError
}
