package conversation

import (
	"sort"
	"strings"

	"github.com/angelotc/stream-pal-ai/domain"
)

// DefaultWindow is the number of user/assistant turns kept when Config.Window is unset.
const DefaultWindow = 10

// StreamerLabel is the speaker label rendered for transcript events.
const StreamerLabel = "streamer"

// streamerPlaceholder in a bot prompt is replaced by the broadcaster's name.
const streamerPlaceholder = "{STREAMER_NAME}"

type Config struct {
	// SpamKeywords are matched case-insensitively as substrings.
	SpamKeywords []string
	// DefaultPrompt is used when a channel has no prompt of its own.
	DefaultPrompt string
	// GlobalPrompt is appended to every channel prompt.
	GlobalPrompt string
	// Window bounds the user/assistant turns; system messages are never dropped.
	Window int
}

// Formatter builds completion requests for one bot identity.
type Formatter struct {
	cfg  Config
	bot  domain.BotIdentity
	spam []string
}

func NewFormatter(cfg Config, bot domain.BotIdentity) *Formatter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	spam := make([]string, 0, len(cfg.SpamKeywords))
	for _, k := range cfg.SpamKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			spam = append(spam, k)
		}
	}
	return &Formatter{cfg: cfg, bot: bot, spam: spam}
}

// Bot returns the identity the formatter classifies roles against.
func (f *Formatter) Bot() domain.BotIdentity { return f.bot }

// Window returns the configured turn limit.
func (f *Formatter) Window() int { return f.cfg.Window }

// IsSpam reports whether text contains a denylisted keyword.
func (f *Formatter) IsSpam(text string) bool {
	if len(f.spam) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range f.spam {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// SystemPrompt joins the channel prompt (or the default) with the global
// suffix, substituting the streamer name.
func (f *Formatter) SystemPrompt(botPrompt, streamerName string) string {
	p := strings.TrimSpace(botPrompt)
	if p == "" {
		p = strings.TrimSpace(f.cfg.DefaultPrompt)
	}
	if streamerName == "" {
		streamerName = "the streamer"
	}
	p = strings.ReplaceAll(p, streamerPlaceholder, streamerName)
	suffix := strings.TrimSpace(f.cfg.GlobalPrompt)
	switch {
	case p == "":
		return suffix
	case suffix == "":
		return p
	}
	return p + " " + suffix
}

// PriorityInstruction is the system message that points the model at one event.
func PriorityInstruction(text string) string {
	return `Respond specifically to this message: "` + text + `"`
}

func speakerLabel(ev domain.Event) string {
	if ev.Source == domain.SourceTranscript {
		return StreamerLabel
	}
	if ev.ChatterName == "" {
		return domain.AnonymousChatter
	}
	return ev.ChatterName
}

// Prompt carries the per-channel prompt inputs.
type Prompt struct {
	BotPrompt    string
	StreamerName string
}

// Format builds the completion messages from recent events (any order, the
// store returns newest first). Spam is dropped, turns are ordered oldest first
// and trimmed to the newest Window entries, and system messages lead. A spam
// priority event gets no priority instruction.
func (f *Formatter) Format(recent []domain.Event, priority *domain.Event, p Prompt) []domain.ChatMessage {
	kept := make([]domain.Event, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if !f.IsSpam(recent[i].Text) {
			kept = append(kept, recent[i])
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
	if len(kept) > f.cfg.Window {
		kept = kept[len(kept)-f.cfg.Window:]
	}

	out := make([]domain.ChatMessage, 0, len(kept)+2)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: f.SystemPrompt(p.BotPrompt, p.StreamerName)})
	if priority != nil && !f.IsSpam(priority.Text) {
		out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: PriorityInstruction(priority.Text)})
	}
	for _, ev := range kept {
		out = append(out, domain.ChatMessage{
			Role:    ClassifyRole(ev, f.bot),
			Content: speakerLabel(ev) + ": " + ev.Text,
		})
	}
	return out
}
