// Package interaction decides when and what the bot says: the cooldown gate,
// reply pacing, and the per-event orchestration from persisted chat event to
// sent reply.
package interaction

import "time"

// Allowed reports whether the bot may speak. A nil last interaction always
// passes; otherwise at least cooldownSeconds must have elapsed.
func Allowed(lastInteractionAt *time.Time, now time.Time, cooldownSeconds int) bool {
	if lastInteractionAt == nil {
		return true
	}
	return now.Sub(*lastInteractionAt) >= time.Duration(cooldownSeconds)*time.Second
}
