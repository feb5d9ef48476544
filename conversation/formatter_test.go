package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelotc/stream-pal-ai/domain"
)

var (
	testBot = domain.BotIdentity{UserID: "99", Platform: domain.SourceTwitch}
	t0      = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
)

func ev(name, id, text string, offset int) domain.Event {
	return domain.Event{
		BroadcasterID: "42",
		ChatterID:     id,
		ChatterName:   name,
		Text:          text,
		Source:        domain.SourceTwitch,
		CreatedAt:     t0.Add(time.Duration(offset) * time.Second),
	}
}

func newTestFormatter(window int, spam ...string) *Formatter {
	return NewFormatter(Config{
		SpamKeywords:  spam,
		DefaultPrompt: "You are a bot for {STREAMER_NAME}.",
		GlobalPrompt:  "Keep it short.",
		Window:        window,
	}, testBot)
}

func TestClassifyRole(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.Event
		want domain.Role
	}{
		{"bot chat message", domain.Event{ChatterID: "99", ChatterName: "botname", Source: domain.SourceTwitch}, domain.RoleAssistant},
		{"other chatter", domain.Event{ChatterID: "7", ChatterName: "alice", Source: domain.SourceTwitch}, domain.RoleUser},
		{"bot id but anonymous name", domain.Event{ChatterID: "99", ChatterName: domain.AnonymousChatter, Source: domain.SourceTwitch}, domain.RoleUser},
		{"bot id but empty name", domain.Event{ChatterID: "99", Source: domain.SourceTwitch}, domain.RoleUser},
		{"bot id on transcript", domain.Event{ChatterID: "99", ChatterName: "botname", Source: domain.SourceTranscript}, domain.RoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyRole(tt.ev, testBot))
		})
	}
	require.Equal(t, domain.RoleUser, ClassifyRole(domain.Event{ChatterName: "x"}, domain.BotIdentity{}))
}

func TestIsSelf(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.Event
		want bool
	}{
		{"named bot message", domain.Event{ChatterID: "99", ChatterName: "botname", Source: domain.SourceTwitch}, true},
		{"bot id with empty name", domain.Event{ChatterID: "99", Source: domain.SourceTwitch}, true},
		{"bot id with anonymous name", domain.Event{ChatterID: "99", ChatterName: domain.AnonymousChatter, Source: domain.SourceTwitch}, true},
		{"other chatter", domain.Event{ChatterID: "7", ChatterName: "alice", Source: domain.SourceTwitch}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsSelf(tt.ev, testBot))
		})
	}
	require.False(t, IsSelf(domain.Event{}, domain.BotIdentity{}), "unset bot id matches nothing")
}

func TestFormat_DropsSpam(t *testing.T) {
	f := newTestFormatter(10, "followers.online")
	// Newest first, as the store returns them.
	recent := []domain.Event{
		ev("alice", "7", "hello", 2),
		ev("spammer", "8", "spam FOLLOWERS.ONLINE cheap", 1),
	}
	msgs := f.Format(recent, nil, Prompt{})

	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "alice: hello"}, msgs[1])
}

func TestFormat_OrdersOldestFirstAndLabels(t *testing.T) {
	f := newTestFormatter(10)
	transcript := ev("ignored", "", "we are so back", 2)
	transcript.Source = domain.SourceTranscript
	recent := []domain.Event{
		ev("ViewerAIBot", "99", "hi chat", 3),
		transcript,
		ev("alice", "7", "first", 1),
	}
	msgs := f.Format(recent, nil, Prompt{})

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You are a bot for the streamer. Keep it short."},
		{Role: domain.RoleUser, Content: "alice: first"},
		{Role: domain.RoleUser, Content: "streamer: we are so back"},
		{Role: domain.RoleAssistant, Content: "ViewerAIBot: hi chat"},
	}, msgs)
}

func TestFormat_PriorityInstruction(t *testing.T) {
	f := newTestFormatter(10)
	trigger := ev("alice", "7", `say "hi"`, 1)
	msgs := f.Format([]domain.Event{trigger}, &trigger, Prompt{BotPrompt: "Be nice to {STREAMER_NAME}.", StreamerName: "streamer42"})

	require.Len(t, msgs, 3)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: "Be nice to streamer42. Keep it short."}, msgs[0])
	require.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: `Respond specifically to this message: "say "hi""`}, msgs[1])
}

func TestFormat_SpamPriorityNotInjected(t *testing.T) {
	f := newTestFormatter(10, "cheap viewers")
	trigger := ev("spammer", "8", "cheap viewers here", 1)
	msgs := f.Format([]domain.Event{trigger}, &trigger, Prompt{})
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
}

func TestFormat_WindowBound(t *testing.T) {
	for _, window := range []int{1, 3, 10} {
		for _, n := range []int{0, 2, 10, 25} {
			t.Run(fmt.Sprintf("window=%d/n=%d", window, n), func(t *testing.T) {
				f := newTestFormatter(window)
				var recent []domain.Event
				for i := n - 1; i >= 0; i-- {
					recent = append(recent, ev("alice", "7", fmt.Sprintf("msg %d", i), i))
				}
				var priority *domain.Event
				if n > 0 {
					priority = &recent[0]
				}
				msgs := f.Format(recent, priority, Prompt{})

				nonSystem := 0
				seenTurn := false
				for _, m := range msgs {
					if m.Role == domain.RoleSystem {
						require.False(t, seenTurn, "system message after a turn")
						continue
					}
					seenTurn = true
					nonSystem++
				}
				require.LessOrEqual(t, nonSystem, window)
				if n > 0 {
					// The newest turn survives truncation.
					require.Equal(t, fmt.Sprintf("alice: msg %d", n-1), msgs[len(msgs)-1].Content)
				}
			})
		}
	}
}

func TestFormat_DefaultWindow(t *testing.T) {
	f := NewFormatter(Config{}, testBot)
	require.Equal(t, DefaultWindow, f.Window())
}
