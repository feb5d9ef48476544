// Package conversation turns stored chat events into the role-tagged message
// list sent to the language model.
package conversation

import "github.com/angelotc/stream-pal-ai/domain"

// ClassifyRole is the single place that decides whether an event was spoken by
// the bot. An event is the assistant's only when the chatter id is the bot's
// platform id, the chatter name is a real name, and the event came from the
// bot's own platform. Everything else, transcripts included, is a user turn.
func ClassifyRole(ev domain.Event, bot domain.BotIdentity) domain.Role {
	if bot.UserID == "" || ev.ChatterID != bot.UserID {
		return domain.RoleUser
	}
	if ev.ChatterName == "" || ev.ChatterName == domain.AnonymousChatter {
		return domain.RoleUser
	}
	platform := bot.Platform
	if platform == "" {
		platform = domain.SourceTwitch
	}
	if ev.Source != platform {
		return domain.RoleUser
	}
	return domain.RoleAssistant
}

// IsSelf reports whether the bot authored ev. It keys on the chatter id alone,
// so it is wider than ClassifyRole: an event from the bot's id with a missing
// or anonymous name is never answered, but still formats as a user turn.
func IsSelf(ev domain.Event, bot domain.BotIdentity) bool {
	return bot.UserID != "" && ev.ChatterID == bot.UserID
}
