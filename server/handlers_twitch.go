package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// HandleToken returns the cached app access token, refreshing it if needed.
func (h *Handlers) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tok, err := h.deps.Tokens.Get(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("app token fetch failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusBadGateway, "failed to obtain app access token")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": tok})
}

type tokenValidation struct {
	Valid     bool     `json:"valid"`
	ClientID  string   `json:"clientId,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresIn int      `json:"expiresIn,omitempty"`
	Token     string   `json:"token,omitempty"`
}

// HandleTokenValidate introspects the current app token, or the one passed as ?token=.
func (h *Handlers) HandleTokenValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	if tok == "" {
		var err error
		if tok, err = h.deps.Tokens.Get(ctx); err != nil {
			writeError(w, http.StatusBadGateway, "failed to obtain app access token")
			return
		}
	}
	info, err := h.deps.Tokens.Validate(ctx, tok)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("token validation failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusBadGateway, "token validation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenValidation{
		Valid:     info.Valid,
		ClientID:  info.ClientID,
		Scopes:    info.Scopes,
		ExpiresIn: info.ExpiresIn,
		Token:     twitchapi.Mask(tok),
	})
}

type botToggleRequest struct {
	BroadcasterID string `json:"broadcasterId"`
	BotEnabled    *bool  `json:"botEnabled"`
}

// HandleSubscriptions toggles the bot for a channel and reconciles its subscriptions.
func (h *Handlers) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req botToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.BroadcasterID = strings.TrimSpace(req.BroadcasterID)
	if req.BroadcasterID == "" || req.BotEnabled == nil {
		writeError(w, http.StatusBadRequest, "broadcasterId and botEnabled are required")
		return
	}
	ctx := r.Context()
	if _, err := h.deps.Channels.Update(ctx, req.BroadcasterID, domain.ChannelUpdate{BotEnabled: req.BotEnabled}); err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, "channel not registered")
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("bot toggle: update channel", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to update channel")
		return
	}
	h.reconcile(w, r, req.BroadcasterID, *req.BotEnabled)
}

// reconcile runs the subscription manager and writes its result.
func (h *Handlers) reconcile(w http.ResponseWriter, r *http.Request, broadcasterID string, enabled bool) {
	res, err := h.deps.Subscriptions.Reconcile(r.Context(), broadcasterID, enabled)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("reconcile failed",
			slog.String("broadcaster_id", broadcasterID), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
