package domain

import "time"

// DefaultCooldownSeconds applies when a channel has no cooldown configured.
const DefaultCooldownSeconds = 6

// Bounds accepted when a cooldown is set through the settings API.
const (
	MinCooldownSeconds = 1
	MaxCooldownSeconds = 300
)

// ValidCooldown reports whether s is within the settings bounds.
func ValidCooldown(s int) bool { return s >= MinCooldownSeconds && s <= MaxCooldownSeconds }

// ChannelState is the per-broadcaster subscription and bot state.
type ChannelState struct {
	Platform          string
	BroadcasterID     string
	BroadcasterLogin  string
	IsLive            bool
	BotEnabled        bool
	BotPrompt         string
	CooldownSeconds   int
	LastInteractionAt *time.Time
	UpdatedAt         time.Time
}

// Cooldown returns the configured cooldown, or DefaultCooldownSeconds when unset.
func (c *ChannelState) Cooldown() int {
	if c.CooldownSeconds <= 0 {
		return DefaultCooldownSeconds
	}
	return c.CooldownSeconds
}

// WantsChat reports whether a chat-message subscription should exist.
func (c *ChannelState) WantsChat() bool {
	return c.IsLive && c.BotEnabled
}

// ChannelUpdate is a partial update; nil fields are left untouched.
type ChannelUpdate struct {
	BroadcasterLogin  *string
	IsLive            *bool
	BotEnabled        *bool
	BotPrompt         *string
	CooldownSeconds   *int
	LastInteractionAt *time.Time
}

// Empty reports whether the update changes nothing.
func (u ChannelUpdate) Empty() bool {
	return u.BroadcasterLogin == nil && u.IsLive == nil && u.BotEnabled == nil &&
		u.BotPrompt == nil && u.CooldownSeconds == nil && u.LastInteractionAt == nil
}
