// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/eventsub"
	"github.com/angelotc/stream-pal-ai/transcript"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// TokenSource issues and introspects the app access token.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Validate(ctx context.Context, token string) (twitchapi.TokenInfo, error)
}

// Reconciler converges a channel's EventSub subscriptions.
type Reconciler interface {
	Reconcile(ctx context.Context, broadcasterID string, desiredEnabled bool) (eventsub.Result, error)
}

// ChannelStore reads and writes channel settings.
type ChannelStore interface {
	Get(ctx context.Context, broadcasterID string) (*domain.ChannelState, error)
	Update(ctx context.Context, broadcasterID string, u domain.ChannelUpdate) (*domain.ChannelState, error)
	Ensure(ctx context.Context, st domain.ChannelState) (*domain.ChannelState, error)
}

// UserDirectory resolves logins and live status when registering a channel.
type UserDirectory interface {
	GetUserID(ctx context.Context, login string) (string, error)
	IsStreamLive(ctx context.Context, broadcasterID string) (bool, error)
}

// Deps are the collaborators behind the HTTP API. Nil members disable the
// routes that need them.
type Deps struct {
	DB            Pinger
	Webhook       *eventsub.WebhookHandler
	Tokens        TokenSource
	Subscriptions Reconciler
	Channels      ChannelStore
	Users         UserDirectory
	// Transcripts receives flushed utterances from the transcript WebSocket.
	Transcripts        transcript.Handler
	TranscriptDebounce time.Duration
	DefaultCooldown    int

	TokenRateLimitRequests int
	TokenRateLimitWindow   time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.DefaultCooldown <= 0 {
		deps.DefaultCooldown = domain.DefaultCooldownSeconds
	}
	return &Handlers{deps: deps}
}
