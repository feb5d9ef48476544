package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
)

// DefaultPollInterval is how often AutoJoiner re-reads the channel store.
const DefaultPollInterval = 30 * time.Second

// ActiveChannels lists channels that are live with the bot enabled.
type ActiveChannels interface {
	ListActive(ctx context.Context) ([]domain.ChannelState, error)
}

// AutoJoiner keeps a Recorder joined to exactly the active channels.
type AutoJoiner struct {
	rec      *Recorder
	channels ActiveChannels
	every    time.Duration
}

func NewAutoJoiner(rec *Recorder, channels ActiveChannels, every time.Duration) *AutoJoiner {
	if every <= 0 {
		every = DefaultPollInterval
	}
	return &AutoJoiner{rec: rec, channels: channels, every: every}
}

// Sync joins newly active channels and departs the ones that went inactive.
// Channels without a known login are skipped; IRC joins by name.
func (a *AutoJoiner) Sync(ctx context.Context) error {
	active, err := a.channels.ListActive(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(active))
	for _, st := range active {
		if st.BroadcasterLogin == "" {
			slog.Debug("auto join: channel has no login", slog.String("broadcaster_id", st.BroadcasterID))
			continue
		}
		want[st.BroadcasterLogin] = true
		a.rec.Join(st.BroadcasterLogin)
	}
	for _, login := range a.rec.Joined() {
		if !want[login] {
			a.rec.Depart(login)
		}
	}
	return nil
}

// Run syncs immediately and then on every tick until ctx is done.
func (a *AutoJoiner) Run(ctx context.Context) {
	ticker := time.NewTicker(a.every)
	defer ticker.Stop()
	slog.Info("auto join: started poller", slog.Duration("interval", a.every))
	for {
		if err := a.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("auto join: list active channels", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
