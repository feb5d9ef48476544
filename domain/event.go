// Package domain holds the types shared by the chat-interaction engine: stored chat
// events, channel subscription state, completion messages and the error taxonomy.
package domain

import "time"

// SourceType identifies where a ChatEvent originated.
type SourceType string

const (
	SourceTwitch     SourceType = "twitch"
	SourceTranscript SourceType = "transcript"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	return s == SourceTwitch || s == SourceTranscript
}

// Event is an immutable chat or transcript record. RespondedTo is the only field
// that changes after insert.
type Event struct {
	ID                string
	BroadcasterID     string
	ProviderMessageID string
	ChatterID         string
	ChatterName       string
	Text              string
	Source            SourceType
	CreatedAt         time.Time
	RespondedTo       bool
}

// Role is the speaker role of a completion message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic completion message shape.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// BotIdentity is the bot's own identity on the chat platform.
type BotIdentity struct {
	UserID   string
	Platform SourceType
}

// AnonymousChatter is the placeholder name stored when a chatter name is unknown.
const AnonymousChatter = "anonymous"

// CompletionParams bounds a language model request.
type CompletionParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
}
