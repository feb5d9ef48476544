package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/angelotc/stream-pal-ai/domain"
)

// Handler persists and reacts to a chat event.
type Handler interface {
	HandleChat(ctx context.Context, ev domain.Event) error
}

// ircClient is the subset of *twitch.Client the recorder drives.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Depart(channel string)
	Connect() error
	Disconnect() error
}

// Recorder forwards IRC chat messages to a Handler.
type Recorder struct {
	client  ircClient
	handler Handler
	now     func() time.Time

	mu     sync.Mutex
	joined map[string]bool
}

// NewRecorder builds a recorder authenticated as username. The token may carry
// the "oauth:" prefix or not.
func NewRecorder(username, oauthToken string, h Handler) (*Recorder, error) {
	if username == "" || oauthToken == "" {
		return nil, errors.New("chat: bot username and oauth token are required for irc ingest")
	}
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return newRecorder(twitch.NewClient(strings.ToLower(username), oauthToken), h), nil
}

func newRecorder(c ircClient, h Handler) *Recorder {
	r := &Recorder{client: c, handler: h, now: time.Now, joined: make(map[string]bool)}
	return r
}

// Event converts an IRC message into a storable event. Twitch's message id
// doubles as the provider id, so redelivery through EventSub dedups against it.
func Event(msg twitch.PrivateMessage, received time.Time) domain.Event {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	if name == "" {
		name = domain.AnonymousChatter
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = received
	}
	return domain.Event{
		BroadcasterID:     msg.RoomID,
		ProviderMessageID: msg.ID,
		ChatterID:         msg.User.ID,
		ChatterName:       name,
		Text:              msg.Message,
		Source:            domain.SourceTwitch,
		CreatedAt:         ts.UTC(),
	}
}

func (r *Recorder) onMessage(ctx context.Context, msg twitch.PrivateMessage) {
	if msg.RoomID == "" || msg.ID == "" {
		slog.Debug("irc message without room or id", slog.String("channel", msg.Channel))
		return
	}
	ev := Event(msg, r.now())
	if err := r.handler.HandleChat(ctx, ev); err != nil {
		slog.Error("failed to handle irc chat message",
			slog.String("broadcaster_id", ev.BroadcasterID),
			slog.String("message_id", ev.ProviderMessageID),
			slog.Any("err", err))
	}
}

// Join joins login's channel unless already joined.
func (r *Recorder) Join(login string) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joined[login] {
		return
	}
	r.joined[login] = true
	r.client.Join(login)
	slog.Info("irc joined channel", slog.String("channel", login))
}

// Depart leaves login's channel if joined.
func (r *Recorder) Depart(login string) {
	login = strings.ToLower(strings.TrimSpace(login))
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.joined[login] {
		return
	}
	delete(r.joined, login)
	r.client.Depart(login)
	slog.Info("irc departed channel", slog.String("channel", login))
}

// Joined returns the channels currently joined.
func (r *Recorder) Joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.joined))
	for c := range r.joined {
		out = append(out, c)
	}
	return out
}

// Run connects and blocks until ctx is cancelled or the connection fails.
func (r *Recorder) Run(ctx context.Context) error {
	r.client.OnPrivateMessage(func(msg twitch.PrivateMessage) { r.onMessage(ctx, msg) })

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		_ = r.client.Disconnect()
	}()

	err := r.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	return err
}
