package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/angelotc/stream-pal-ai/domain"
)

// ChannelStore persists per-broadcaster subscription and bot state for one platform.
type ChannelStore struct {
	db       *sql.DB
	platform string
}

func NewChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{db: db, platform: string(domain.SourceTwitch)}
}

const channelColumns = `platform, broadcaster_id, broadcaster_login, is_live, bot_enabled, bot_prompt, cooldown_seconds, last_interaction_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (*domain.ChannelState, error) {
	var st domain.ChannelState
	var last sql.NullTime
	if err := row.Scan(&st.Platform, &st.BroadcasterID, &st.BroadcasterLogin, &st.IsLive, &st.BotEnabled, &st.BotPrompt, &st.CooldownSeconds, &last, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChannelNotFound
		}
		return nil, err
	}
	if last.Valid {
		t := last.Time
		st.LastInteractionAt = &t
	}
	return &st, nil
}

// Get returns the channel or domain.ErrChannelNotFound.
func (s *ChannelStore) Get(ctx context.Context, broadcasterID string) (*domain.ChannelState, error) {
	return scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE platform = $1 AND broadcaster_id = $2`, s.platform, broadcasterID))
}

// Update applies the non-nil fields of u and returns the new state.
func (s *ChannelStore) Update(ctx context.Context, broadcasterID string, u domain.ChannelUpdate) (*domain.ChannelState, error) {
	if u.Empty() {
		return s.Get(ctx, broadcasterID)
	}
	var sets []string
	args := []any{s.platform, broadcasterID}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.BroadcasterLogin != nil {
		add("broadcaster_login", *u.BroadcasterLogin)
	}
	if u.IsLive != nil {
		add("is_live", *u.IsLive)
	}
	if u.BotEnabled != nil {
		add("bot_enabled", *u.BotEnabled)
	}
	if u.BotPrompt != nil {
		add("bot_prompt", *u.BotPrompt)
	}
	if u.CooldownSeconds != nil {
		add("cooldown_seconds", *u.CooldownSeconds)
	}
	if u.LastInteractionAt != nil {
		add("last_interaction_at", u.LastInteractionAt.UTC())
	}
	q := `UPDATE channels SET ` + strings.Join(sets, ", ") + `, updated_at = NOW()
		WHERE platform = $1 AND broadcaster_id = $2 RETURNING ` + channelColumns
	return scanChannel(s.db.QueryRowContext(ctx, q, args...))
}

// Ensure inserts the channel if it is not tracked yet and returns the stored state.
func (s *ChannelStore) Ensure(ctx context.Context, st domain.ChannelState) (*domain.ChannelState, error) {
	if st.BroadcasterID == "" {
		return nil, fmt.Errorf("ensure channel: broadcaster id empty")
	}
	cooldown := st.CooldownSeconds
	if cooldown <= 0 {
		cooldown = domain.DefaultCooldownSeconds
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (platform, broadcaster_id, broadcaster_login, is_live, bot_enabled, bot_prompt, cooldown_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (platform, broadcaster_id) DO NOTHING`,
		s.platform, st.BroadcasterID, st.BroadcasterLogin, st.IsLive, st.BotEnabled, st.BotPrompt, cooldown)
	if err != nil {
		return nil, fmt.Errorf("ensure channel: %w", err)
	}
	return s.Get(ctx, st.BroadcasterID)
}

func (s *ChannelStore) list(ctx context.Context, where string) ([]domain.ChannelState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE platform = $1`+where+` ORDER BY broadcaster_id`, s.platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ChannelState
	for rows.Next() {
		st, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// List returns every tracked channel.
func (s *ChannelStore) List(ctx context.Context) ([]domain.ChannelState, error) {
	return s.list(ctx, "")
}

// ListActive returns channels that are live with the bot enabled.
func (s *ChannelStore) ListActive(ctx context.Context) ([]domain.ChannelState, error) {
	return s.list(ctx, " AND is_live AND bot_enabled")
}

