package interaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelotc/stream-pal-ai/telemetry"
)

// RunIdleOnce runs one idle cycle for every live, bot-enabled channel. Each
// channel runs independently; the call returns when all have finished.
func (o *Orchestrator) RunIdleOnce(ctx context.Context) int {
	active, err := o.channels.ListActive(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("idle tick: list active channels", slog.Any("err", err))
		return 0
	}
	telemetry.SetActiveChannels(len(active))
	var wg sync.WaitGroup
	for _, st := range active {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			o.Idle(ctx, id)
		}(st.BroadcasterID)
	}
	wg.Wait()
	return len(active)
}

// StartIdleLoop runs RunIdleOnce every interval until ctx is done. A
// non-positive interval disables the loop.
func (o *Orchestrator) StartIdleLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	slog.Info("idle interaction loop started", slog.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tickCtx := telemetry.WithCorrelation(ctx, uuid.NewString())
			o.RunIdleOnce(tickCtx)
		}
	}
}
