package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// SubscriptionAPI is the Helix surface the manager needs.
type SubscriptionAPI interface {
	ListSubscriptions(ctx context.Context, userID string) ([]twitchapi.Subscription, error)
	CreateSubscription(ctx context.Context, r twitchapi.CreateSubscriptionRequest) (twitchapi.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// ChannelStore reads and updates per-broadcaster state.
type ChannelStore interface {
	Get(ctx context.Context, broadcasterID string) (*domain.ChannelState, error)
	Update(ctx context.Context, broadcasterID string, u domain.ChannelUpdate) (*domain.ChannelState, error)
}

// ManagerConfig holds the webhook transport the manager registers.
type ManagerConfig struct {
	CallbackURL string
	Secret      string
	BotUserID   string
	// ChatOverIRC drops channel.chat.message from the desired set; chat
	// arrives over IRC and webhook chat deliveries would be discarded.
	ChatOverIRC bool
}

// Manager keeps a channel's upstream EventSub subscriptions consistent with
// its live and bot-enabled state.
type Manager struct {
	api      SubscriptionAPI
	channels ChannelStore
	cfg      ManagerConfig
}

func NewManager(api SubscriptionAPI, channels ChannelStore, cfg ManagerConfig) *Manager {
	return &Manager{api: api, channels: channels, cfg: cfg}
}

// Result summarises one reconcile pass.
type Result struct {
	BroadcasterID string   `json:"broadcaster_id"`
	Desired       []string `json:"desired"`
	Kept          []string `json:"kept"`
	Created       []string `json:"created"`
	Deleted       []string `json:"deleted"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// usable statuses: delivering, or waiting for our own challenge response.
func usable(s twitchapi.Subscription) bool {
	return s.Status == "enabled" || s.Status == "webhook_callback_verification_pending"
}

func managedType(t string) bool {
	return t == twitchapi.SubStreamOnline || t == twitchapi.SubStreamOffline || t == twitchapi.SubChatMessage
}

func (m *Manager) condition(subType, broadcasterID string) map[string]string {
	if subType == twitchapi.SubChatMessage {
		return map[string]string{"broadcaster_user_id": broadcasterID, "user_id": m.cfg.BotUserID}
	}
	return map[string]string{"broadcaster_user_id": broadcasterID}
}

// matches reports whether an upstream subscription can stand in for the
// desired one: same condition and, when configured, the same callback.
func (m *Manager) matches(s twitchapi.Subscription, want map[string]string) bool {
	for k, v := range want {
		if s.Condition[k] != v {
			return false
		}
	}
	if m.cfg.CallbackURL != "" && s.Transport.Callback != "" && s.Transport.Callback != m.cfg.CallbackURL {
		return false
	}
	return true
}

// desiredTypes: online/offline whenever the channel is tracked, chat only
// while it is live and the bot is enabled, and never when chat comes over IRC.
func (m *Manager) desiredTypes(state *domain.ChannelState, enabled bool) []string {
	if state == nil {
		return nil
	}
	out := []string{twitchapi.SubStreamOnline, twitchapi.SubStreamOffline}
	if state.IsLive && enabled && !m.cfg.ChatOverIRC {
		out = append(out, twitchapi.SubChatMessage)
	}
	return out
}

// Reconcile diffs the desired subscription set for broadcasterID against what
// Twitch reports and issues creates and deletes. Unusable, duplicate and
// undesired subscriptions are deleted first; a create conflict counts as
// success. Partial failures are joined into the returned error without
// rolling back successful calls.
func (m *Manager) Reconcile(ctx context.Context, broadcasterID string, desiredEnabled bool) (Result, error) {
	res := Result{BroadcasterID: broadcasterID}
	if broadcasterID == "" {
		return res, domain.NewError(domain.KindValidation, "eventsub.Reconcile", errors.New("broadcaster id empty"))
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "eventsub"), slog.String("broadcaster_id", broadcasterID))
	start := time.Now()
	defer func() {
		if telemetry.ReconcileDuration != nil {
			telemetry.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	state, err := m.channels.Get(ctx, broadcasterID)
	if err != nil && !errors.Is(err, domain.ErrChannelNotFound) {
		return res, fmt.Errorf("load channel: %w", err)
	}
	if errors.Is(err, domain.ErrChannelNotFound) {
		state = nil
	}
	res.Desired = m.desiredTypes(state, desiredEnabled)
	wanted := make(map[string]bool, len(res.Desired))
	for _, t := range res.Desired {
		wanted[t] = true
	}

	current, err := m.api.ListSubscriptions(ctx, broadcasterID)
	if err != nil {
		return res, domain.NewError(domain.KindUpstream, "eventsub.ListSubscriptions", err)
	}

	kept := make(map[string]bool)
	var toDelete []twitchapi.Subscription
	for _, s := range current {
		if !managedType(s.Type) || s.Condition["broadcaster_user_id"] != broadcasterID {
			continue
		}
		switch {
		case !wanted[s.Type]:
			toDelete = append(toDelete, s)
		case kept[s.Type]:
			toDelete = append(toDelete, s)
		case !usable(s) || !m.matches(s, m.condition(s.Type, broadcasterID)):
			toDelete = append(toDelete, s)
		default:
			kept[s.Type] = true
			res.Kept = append(res.Kept, s.Type)
		}
	}

	var errs []error
	for _, s := range toDelete {
		err := m.api.DeleteSubscription(ctx, s.ID)
		telemetry.RecordSubscriptionOp("delete", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s %s: %w", s.Type, s.ID, err))
			continue
		}
		log.Info("eventsub subscription deleted", slog.String("type", s.Type), slog.String("id", s.ID), slog.String("status", s.Status))
		res.Deleted = append(res.Deleted, s.ID)
	}

	for _, t := range res.Desired {
		if kept[t] {
			continue
		}
		_, err := m.api.CreateSubscription(ctx, twitchapi.CreateSubscriptionRequest{
			Type:      t,
			Version:   "1",
			Condition: m.condition(t, broadcasterID),
			Transport: twitchapi.Transport{Method: "webhook", Callback: m.cfg.CallbackURL, Secret: m.cfg.Secret},
		})
		if errors.Is(err, twitchapi.ErrConflict) {
			log.Debug("eventsub subscription already exists", slog.String("type", t))
			res.Conflicts = append(res.Conflicts, t)
			telemetry.RecordSubscriptionOp("create", nil)
			continue
		}
		telemetry.RecordSubscriptionOp("create", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", t, err))
			continue
		}
		log.Info("eventsub subscription created", slog.String("type", t))
		res.Created = append(res.Created, t)
	}

	if len(errs) > 0 {
		return res, domain.NewError(domain.KindUpstream, "eventsub.Reconcile", errors.Join(errs...))
	}
	return res, nil
}

// ReconcileAll reconciles every given channel using its stored bot toggle.
// It keeps going after a failure and returns the joined errors.
func (m *Manager) ReconcileAll(ctx context.Context, states []domain.ChannelState) error {
	var errs []error
	for _, st := range states {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.Reconcile(ctx, st.BroadcasterID, st.BotEnabled); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.BroadcasterID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleStreamOnline marks the channel live and adds the chat subscription.
func (m *Manager) HandleStreamOnline(ctx context.Context, n StreamOnline) error {
	return m.setLive(ctx, n.BroadcasterID, n.BroadcasterLogin, true)
}

// HandleStreamOffline marks the channel offline and removes the chat subscription.
func (m *Manager) HandleStreamOffline(ctx context.Context, n StreamOffline) error {
	return m.setLive(ctx, n.BroadcasterID, n.BroadcasterLogin, false)
}

func (m *Manager) setLive(ctx context.Context, broadcasterID, login string, live bool) error {
	u := domain.ChannelUpdate{IsLive: &live}
	if login != "" {
		u.BroadcasterLogin = &login
	}
	state, err := m.channels.Update(ctx, broadcasterID, u)
	if errors.Is(err, domain.ErrChannelNotFound) {
		telemetry.LoggerWithCorr(ctx).Warn("stream status for untracked channel", slog.String("broadcaster_id", broadcasterID), slog.Bool("live", live))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update live state: %w", err)
	}
	_, err = m.Reconcile(ctx, broadcasterID, state.BotEnabled)
	return err
}

// HandleRevocation records a revoked subscription. It is not recreated here;
// the next reconcile restores it if still desired.
func (m *Manager) HandleRevocation(ctx context.Context, n Revocation) {
	telemetry.RecordRevocation(n.Subscription.Type, n.Subscription.Status)
	telemetry.LoggerWithCorr(ctx).Warn("eventsub subscription revoked",
		slog.String("type", n.Subscription.Type),
		slog.String("id", n.Subscription.ID),
		slog.String("reason", n.Subscription.Status),
		slog.String("broadcaster_id", n.Subscription.Condition["broadcaster_user_id"]))
}
