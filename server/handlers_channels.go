package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
)

// channelView is the JSON shape of a channel's settings.
type channelView struct {
	BroadcasterID     string     `json:"broadcasterId"`
	BroadcasterLogin  string     `json:"broadcasterLogin,omitempty"`
	IsLive            bool       `json:"isLive"`
	BotEnabled        bool       `json:"botEnabled"`
	BotPrompt         string     `json:"botPrompt"`
	CooldownSeconds   int        `json:"cooldownSeconds"`
	LastInteractionAt *time.Time `json:"lastInteractionAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func viewOf(st *domain.ChannelState) channelView {
	return channelView{
		BroadcasterID:     st.BroadcasterID,
		BroadcasterLogin:  st.BroadcasterLogin,
		IsLive:            st.IsLive,
		BotEnabled:        st.BotEnabled,
		BotPrompt:         st.BotPrompt,
		CooldownSeconds:   st.Cooldown(),
		LastInteractionAt: st.LastInteractionAt,
		UpdatedAt:         st.UpdatedAt,
	}
}

func cooldownError(s int) error {
	if domain.ValidCooldown(s) {
		return nil
	}
	return fmt.Errorf("cooldownSeconds must be between %d and %d", domain.MinCooldownSeconds, domain.MaxCooldownSeconds)
}

// HandleGetChannel returns GET /api/channels/{id}.
func (h *Handlers) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Channels.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrChannelNotFound) {
		writeError(w, http.StatusNotFound, "channel not registered")
		return
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("get channel", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

type channelPatch struct {
	BotPrompt       *string `json:"botPrompt"`
	CooldownSeconds *int    `json:"cooldownSeconds"`
	BotEnabled      *bool   `json:"botEnabled"`
}

// HandlePatchChannel updates prompt, cooldown or the bot toggle. A toggle
// change reconciles subscriptions before responding.
func (h *Handlers) HandlePatchChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	var p channelPatch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.CooldownSeconds != nil {
		if err := cooldownError(*p.CooldownSeconds); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	u := domain.ChannelUpdate{BotPrompt: p.BotPrompt, CooldownSeconds: p.CooldownSeconds, BotEnabled: p.BotEnabled}
	if u.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	before, err := h.deps.Channels.Get(ctx, id)
	if errors.Is(err, domain.ErrChannelNotFound) {
		writeError(w, http.StatusNotFound, "channel not registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	st, err := h.deps.Channels.Update(ctx, id, u)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("patch channel", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to update channel")
		return
	}
	if p.BotEnabled != nil && *p.BotEnabled != before.BotEnabled && h.deps.Subscriptions != nil {
		if _, err := h.deps.Subscriptions.Reconcile(ctx, id, st.BotEnabled); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("reconcile after bot toggle failed",
				slog.String("broadcaster_id", id), slog.Any("err", err))
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "channel": viewOf(st)})
			return
		}
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

type channelRegistration struct {
	BroadcasterID    string `json:"broadcasterId"`
	BroadcasterLogin string `json:"broadcasterLogin"`
	BotEnabled       bool   `json:"botEnabled"`
	BotPrompt        string `json:"botPrompt"`
	CooldownSeconds  int    `json:"cooldownSeconds"`
}

// HandleCreateChannel registers a channel and subscribes to its stream
// lifecycle. Registering an existing channel returns it unchanged.
func (h *Handlers) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req channelRegistration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.BroadcasterID = strings.TrimSpace(req.BroadcasterID)
	req.BroadcasterLogin = strings.ToLower(strings.TrimSpace(req.BroadcasterLogin))
	if req.BroadcasterID == "" && req.BroadcasterLogin == "" {
		writeError(w, http.StatusBadRequest, "broadcasterId or broadcasterLogin is required")
		return
	}
	if req.CooldownSeconds == 0 {
		req.CooldownSeconds = h.deps.DefaultCooldown
	}
	if err := cooldownError(req.CooldownSeconds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var live bool
	if h.deps.Users != nil {
		if req.BroadcasterID == "" {
			id, err := h.deps.Users.GetUserID(ctx, req.BroadcasterLogin)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unknown broadcaster login")
				return
			}
			req.BroadcasterID = id
		}
		var err error
		if live, err = h.deps.Users.IsStreamLive(ctx, req.BroadcasterID); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("live status lookup failed; assuming offline",
				slog.String("broadcaster_id", req.BroadcasterID), slog.Any("err", err))
		}
	} else if req.BroadcasterID == "" {
		writeError(w, http.StatusBadRequest, "broadcasterId is required")
		return
	}

	st, err := h.deps.Channels.Ensure(ctx, domain.ChannelState{
		BroadcasterID:    req.BroadcasterID,
		BroadcasterLogin: req.BroadcasterLogin,
		IsLive:           live,
		BotEnabled:       req.BotEnabled,
		BotPrompt:        req.BotPrompt,
		CooldownSeconds:  req.CooldownSeconds,
	})
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("register channel", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to register channel")
		return
	}
	if h.deps.Subscriptions != nil {
		if _, err := h.deps.Subscriptions.Reconcile(ctx, st.BroadcasterID, st.BotEnabled); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("initial reconcile failed",
				slog.String("broadcaster_id", st.BroadcasterID), slog.Any("err", err))
		}
	}
	writeJSON(w, http.StatusCreated, viewOf(st))
}
