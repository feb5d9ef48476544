package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/angelotc/stream-pal-ai/conversation"
	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
)

// Stage is a point in the interaction state machine.
type Stage string

const (
	StageReceived            Stage = "received"
	StageVerified            Stage = "verified"
	StagePersisted           Stage = "persisted"
	StageGateChecked         Stage = "gate_checked"
	StageContextBuilt        Stage = "context_built"
	StageCompletionRequested Stage = "completion_requested"
	StagePaced               Stage = "paced"
	StageSent                Stage = "sent"
	StageRecorded            Stage = "recorded"

	StageRejected Stage = "rejected"
	StageSkipped  Stage = "skipped"
	StageFailed   Stage = "failed"
)

// Skip and failure reasons.
const (
	ReasonDuplicate     = "duplicate"
	ReasonSelf          = "self_message"
	ReasonSpam          = "spam"
	ReasonUntracked     = "untracked_channel"
	ReasonDisabled      = "bot_disabled"
	ReasonCooldown      = "cooldown"
	ReasonNoUnanswered  = "no_unanswered"
	ReasonEmptyReply    = "empty_completion"
	ReasonPersist       = "persist"
	ReasonChannel       = "channel_lookup"
	ReasonContext       = "context_query"
	ReasonCompletion    = "completion"
	ReasonCanceled      = "canceled"
	ReasonSend          = "send"
	ReasonRecordPartial = "record_partial"
)

// Outcome is where a cycle stopped and why.
type Outcome struct {
	Stage  Stage
	Reason string
	Err    error
}

// PriorityPolicy selects which stored event a reply addresses.
type PriorityPolicy string

const (
	// PolicyTrigger answers the event that started the cycle.
	PolicyTrigger PriorityPolicy = "trigger"
	// PolicyOldestUnanswered answers the oldest unanswered event in the window.
	PolicyOldestUnanswered PriorityPolicy = "oldest_unanswered"
)

// ParsePolicy maps a config string to a policy, defaulting to PolicyTrigger.
func ParsePolicy(s string) PriorityPolicy {
	if PriorityPolicy(strings.ToLower(strings.TrimSpace(s))) == PolicyOldestUnanswered {
		return PolicyOldestUnanswered
	}
	return PolicyTrigger
}

// MessageStore is the chat event log.
type MessageStore interface {
	Insert(ctx context.Context, ev domain.Event) (domain.Event, bool, error)
	QueryRecent(ctx context.Context, broadcasterID string, limit int) ([]domain.Event, error)
	MarkResponded(ctx context.Context, ids ...string) error
}

// ChannelStore reads channel settings and records interactions.
type ChannelStore interface {
	Get(ctx context.Context, broadcasterID string) (*domain.ChannelState, error)
	Update(ctx context.Context, broadcasterID string, u domain.ChannelUpdate) (*domain.ChannelState, error)
	ListActive(ctx context.Context) ([]domain.ChannelState, error)
}

// Completer generates reply text.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (string, error)
}

// Sender posts a reply to the broadcaster's chat.
type Sender interface {
	Send(ctx context.Context, broadcasterID, text string) error
}

// Config tunes the orchestrator.
type Config struct {
	// ContextSize is how many recent events are fetched per cycle.
	ContextSize int
	Completion  domain.CompletionParams
	Policy      PriorityPolicy
	// BotName is stripped if the model prefixes its reply with it.
	BotName string
	// MaxReplyChars truncates replies; Twitch rejects messages over 500 characters.
	MaxReplyChars int
	// CycleTimeout bounds background cycles started by HandleChat.
	CycleTimeout time.Duration
}

// Orchestrator runs the per-event interaction state machine.
type Orchestrator struct {
	cfg       Config
	messages  MessageStore
	channels  ChannelStore
	formatter *conversation.Formatter
	completer Completer
	sender    Sender
	pacer     *Pacer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithSleep overrides the pacing wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func NewOrchestrator(cfg Config, messages MessageStore, channels ChannelStore, formatter *conversation.Formatter,
	completer Completer, sender Sender, pacer *Pacer, opts ...Option) *Orchestrator {
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = conversation.DefaultWindow
	}
	if cfg.Completion.MaxTokens <= 0 {
		cfg.Completion.MaxTokens = 100
	}
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = 500
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = time.Minute
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyTrigger
	}
	if pacer == nil {
		pacer = NewPacer(DefaultPacerConfig())
	}
	o := &Orchestrator{
		cfg:       cfg,
		messages:  messages,
		channels:  channels,
		formatter: formatter,
		completer: completer,
		sender:    sender,
		pacer:     pacer,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func skipped(reason string) Outcome { return Outcome{Stage: StageSkipped, Reason: reason} }

func failed(reason string, err error) Outcome {
	return Outcome{Stage: StageFailed, Reason: reason, Err: err}
}

func (o *Orchestrator) record(ctx context.Context, broadcasterID string, out Outcome) Outcome {
	telemetry.RecordInteraction(string(out.Stage), out.Reason)
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "interaction"),
		slog.String("broadcaster_id", broadcasterID),
		slog.String("stage", string(out.Stage)),
	)
	switch {
	case out.Stage == StageFailed:
		log.Warn("interaction failed", slog.String("reason", out.Reason), slog.Any("err", out.Err))
	case out.Err != nil:
		log.Warn("interaction completed with errors", slog.String("reason", out.Reason), slog.Any("err", out.Err))
	case out.Stage == StageSkipped:
		log.Debug("interaction skipped", slog.String("reason", out.Reason))
	default:
		log.Info("interaction recorded")
	}
	return out
}

// Handle runs a full cycle for an already verified inbound event.
func (o *Orchestrator) Handle(ctx context.Context, ev domain.Event) Outcome {
	stored, out, proceed := o.ingest(ctx, ev)
	if !proceed {
		return o.record(ctx, ev.BroadcasterID, out)
	}
	return o.record(ctx, ev.BroadcasterID, o.respond(ctx, &stored))
}

// HandleChat persists ev synchronously and finishes the cycle in the
// background. Only a persistence failure is returned.
func (o *Orchestrator) HandleChat(ctx context.Context, ev domain.Event) error {
	stored, out, proceed := o.ingest(ctx, ev)
	if !proceed {
		o.record(ctx, ev.BroadcasterID, out)
		if out.Stage == StageFailed {
			return out.Err
		}
		return nil
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CycleTimeout)
		defer cancel()
		o.record(bg, stored.BroadcasterID, o.respond(bg, &stored))
	}()
	return nil
}

// Wait blocks until background cycles started by HandleChat finish.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// ingest covers RECEIVED through PERSISTED and the self/spam checks.
func (o *Orchestrator) ingest(ctx context.Context, ev domain.Event) (domain.Event, Outcome, bool) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = o.now().UTC()
	}
	stored, inserted, err := o.messages.Insert(ctx, ev)
	if err != nil {
		return ev, failed(ReasonPersist, fmt.Errorf("persist event: %w", err)), false
	}
	if !inserted {
		return stored, skipped(ReasonDuplicate), false
	}
	telemetry.RecordIngest(string(stored.Source))
	if conversation.IsSelf(stored, o.formatter.Bot()) {
		return stored, skipped(ReasonSelf), false
	}
	if o.formatter.IsSpam(stored.Text) {
		return stored, skipped(ReasonSpam), false
	}
	return stored, Outcome{Stage: StagePersisted}, true
}

// respond runs GATE_CHECKED onwards for a trigger event.
func (o *Orchestrator) respond(ctx context.Context, trigger *domain.Event) (out Outcome) {
	ctx, span := telemetry.StartSpan(ctx, "interaction", "interaction.respond",
		attribute.String("broadcaster_id", trigger.BroadcasterID))
	defer func() {
		span.SetAttributes(attribute.String("stage", string(out.Stage)), attribute.String("reason", out.Reason))
		if out.Err != nil {
			telemetry.RecordError(span, out.Err)
		}
		span.End()
	}()

	state, out, ok := o.gate(ctx, trigger.BroadcasterID)
	if !ok {
		return out
	}
	recent, err := o.messages.QueryRecent(ctx, trigger.BroadcasterID, o.cfg.ContextSize)
	if err != nil {
		return failed(ReasonContext, err)
	}
	priority := trigger
	if o.cfg.Policy == PolicyOldestUnanswered {
		if oldest := o.oldestUnanswered(recent); oldest != nil {
			priority = oldest
		}
	}
	return o.reply(ctx, state, recent, priority)
}

// Idle runs a timer-driven cycle for one channel. It enters at the gate and
// only speaks when stored events are still unanswered. A priority message is
// injected only when a single event stands out.
func (o *Orchestrator) Idle(ctx context.Context, broadcasterID string) Outcome {
	state, out, ok := o.gate(ctx, broadcasterID)
	if !ok {
		return o.record(ctx, broadcasterID, out)
	}
	recent, err := o.messages.QueryRecent(ctx, broadcasterID, o.cfg.ContextSize)
	if err != nil {
		return o.record(ctx, broadcasterID, failed(ReasonContext, err))
	}
	unanswered := o.unanswered(recent)
	if len(unanswered) == 0 {
		return o.record(ctx, broadcasterID, skipped(ReasonNoUnanswered))
	}
	var priority *domain.Event
	switch {
	case o.cfg.Policy == PolicyOldestUnanswered:
		priority = o.oldestUnanswered(recent)
	case len(unanswered) == 1:
		priority = &unanswered[0]
	}
	return o.record(ctx, broadcasterID, o.reply(ctx, state, recent, priority))
}

// gate loads the channel fresh and applies the cooldown.
func (o *Orchestrator) gate(ctx context.Context, broadcasterID string) (*domain.ChannelState, Outcome, bool) {
	state, err := o.channels.Get(ctx, broadcasterID)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return nil, skipped(ReasonUntracked), false
	}
	if err != nil {
		return nil, failed(ReasonChannel, err), false
	}
	if !state.BotEnabled {
		return nil, skipped(ReasonDisabled), false
	}
	if !Allowed(state.LastInteractionAt, o.now(), state.Cooldown()) {
		return nil, skipped(ReasonCooldown), false
	}
	return state, Outcome{Stage: StageGateChecked}, true
}

// unanswered returns the events in recent (newest first) that still need a reply.
func (o *Orchestrator) unanswered(recent []domain.Event) []domain.Event {
	var out []domain.Event
	for _, ev := range recent {
		if ev.RespondedTo || conversation.IsSelf(ev, o.formatter.Bot()) || o.formatter.IsSpam(ev.Text) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (o *Orchestrator) oldestUnanswered(recent []domain.Event) *domain.Event {
	u := o.unanswered(recent)
	if len(u) == 0 {
		return nil
	}
	oldest := u[0]
	for _, ev := range u[1:] {
		if ev.CreatedAt.Before(oldest.CreatedAt) {
			oldest = ev
		}
	}
	return &oldest
}

// reply covers CONTEXT_BUILT through RECORDED.
func (o *Orchestrator) reply(ctx context.Context, state *domain.ChannelState, recent []domain.Event, priority *domain.Event) Outcome {
	msgs := o.formatter.Format(recent, priority, conversation.Prompt{
		BotPrompt:    state.BotPrompt,
		StreamerName: state.BroadcasterLogin,
	})

	var text string
	var err error
	telemetry.TimeFunc(telemetry.CompletionDuration, func() {
		text, err = o.completer.Complete(ctx, msgs, o.cfg.Completion)
	})
	if err != nil {
		return failed(ReasonCompletion, domain.NewError(domain.KindUpstream, "complete", err))
	}
	text = o.cleanReply(text)
	if text == "" {
		return skipped(ReasonEmptyReply)
	}

	if err := o.sleep(ctx, o.pacer.Delay(utf8.RuneCountInString(text))); err != nil {
		return failed(ReasonCanceled, err)
	}

	telemetry.TimeFunc(telemetry.SendDuration, func() {
		err = o.sender.Send(ctx, state.BroadcasterID, text)
	})
	if err != nil {
		return failed(ReasonSend, domain.NewError(domain.KindUpstream, "send", err))
	}

	// The reply is out; from here failures are reported but do not undo it.
	var errs []error
	now := o.now().UTC()
	if _, err := o.channels.Update(ctx, state.BroadcasterID, domain.ChannelUpdate{LastInteractionAt: &now}); err != nil {
		errs = append(errs, fmt.Errorf("record last interaction: %w", err))
	}
	ids := o.consumed(recent, priority)
	if err := o.messages.MarkResponded(ctx, ids...); err != nil {
		errs = append(errs, fmt.Errorf("mark responded: %w", err))
	}
	if len(errs) > 0 {
		return Outcome{Stage: StageSent, Reason: ReasonRecordPartial, Err: errors.Join(errs...)}
	}
	return Outcome{Stage: StageRecorded}
}

// consumed lists the priority event plus every unanswered event in the window.
func (o *Orchestrator) consumed(recent []domain.Event, priority *domain.Event) []string {
	seen := make(map[string]bool)
	var ids []string
	if priority != nil && priority.ID != "" {
		seen[priority.ID] = true
		ids = append(ids, priority.ID)
	}
	for _, ev := range o.unanswered(recent) {
		if ev.ID != "" && !seen[ev.ID] {
			seen[ev.ID] = true
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// cleanReply trims whitespace, a leading "BotName:" and overlong text.
func (o *Orchestrator) cleanReply(text string) string {
	text = strings.TrimSpace(text)
	if o.cfg.BotName != "" {
		// Compare rune by rune; case folding can change byte widths.
		runes := []rune(text)
		for _, sep := range []string{":", " -", ","} {
			prefix := o.cfg.BotName + sep
			n := utf8.RuneCountInString(prefix)
			if len(runes) >= n && strings.EqualFold(string(runes[:n]), prefix) {
				text = strings.TrimSpace(string(runes[n:]))
				break
			}
		}
	}
	if utf8.RuneCountInString(text) > o.cfg.MaxReplyChars {
		text = string([]rune(text)[:o.cfg.MaxReplyChars])
	}
	return text
}
