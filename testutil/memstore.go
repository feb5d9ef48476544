package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
)

// MemoryMessageStore is an in-memory message store with the same contract as
// db.MessageStore: dedup on (broadcaster, provider message id), newest-first reads.
type MemoryMessageStore struct {
	mu     sync.Mutex
	events []domain.Event
	seq    int
	// InsertErr, when set, is returned by Insert.
	InsertErr error
}

func NewMemoryMessageStore() *MemoryMessageStore { return &MemoryMessageStore{} }

func (s *MemoryMessageStore) Insert(_ context.Context, ev domain.Event) (domain.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return domain.Event{}, false, s.InsertErr
	}
	if ev.ProviderMessageID != "" {
		for _, e := range s.events {
			if e.BroadcasterID == ev.BroadcasterID && e.ProviderMessageID == ev.ProviderMessageID {
				return e, false, nil
			}
		}
	}
	s.seq++
	if ev.ID == "" {
		ev.ID = "ev-" + strconv.Itoa(s.seq)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return ev, true, nil
}

func (s *MemoryMessageStore) QueryRecent(_ context.Context, broadcasterID string, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].BroadcasterID == broadcasterID {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMessageStore) MarkResponded(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.events {
		if set[s.events[i].ID] {
			s.events[i].RespondedTo = true
		}
	}
	return nil
}

// All returns every stored event in insertion order.
func (s *MemoryMessageStore) All() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// MemoryChannelStore is an in-memory channel settings store.
type MemoryChannelStore struct {
	mu       sync.Mutex
	channels map[string]domain.ChannelState
	// UpdateErr, when set, is returned by Update.
	UpdateErr error
}

func NewMemoryChannelStore(states ...domain.ChannelState) *MemoryChannelStore {
	s := &MemoryChannelStore{channels: make(map[string]domain.ChannelState)}
	for _, st := range states {
		s.channels[st.BroadcasterID] = st
	}
	return s
}

func (s *MemoryChannelStore) Get(_ context.Context, broadcasterID string) (*domain.ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[broadcasterID]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return &st, nil
}

func (s *MemoryChannelStore) Update(_ context.Context, broadcasterID string, u domain.ChannelUpdate) (*domain.ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}
	st, ok := s.channels[broadcasterID]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	if u.BroadcasterLogin != nil {
		st.BroadcasterLogin = *u.BroadcasterLogin
	}
	if u.IsLive != nil {
		st.IsLive = *u.IsLive
	}
	if u.BotEnabled != nil {
		st.BotEnabled = *u.BotEnabled
	}
	if u.BotPrompt != nil {
		st.BotPrompt = *u.BotPrompt
	}
	if u.CooldownSeconds != nil {
		st.CooldownSeconds = *u.CooldownSeconds
	}
	if u.LastInteractionAt != nil {
		t := *u.LastInteractionAt
		st.LastInteractionAt = &t
	}
	st.UpdatedAt = time.Now().UTC()
	s.channels[broadcasterID] = st
	return &st, nil
}

func (s *MemoryChannelStore) Ensure(_ context.Context, st domain.ChannelState) (*domain.ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.channels[st.BroadcasterID]; ok {
		return &cur, nil
	}
	if st.Platform == "" {
		st.Platform = string(domain.SourceTwitch)
	}
	if st.CooldownSeconds == 0 {
		st.CooldownSeconds = domain.DefaultCooldownSeconds
	}
	s.channels[st.BroadcasterID] = st
	return &st, nil
}

func (s *MemoryChannelStore) List(_ context.Context) ([]domain.ChannelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChannelState, 0, len(s.channels))
	for _, st := range s.channels {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BroadcasterID < out[j].BroadcasterID })
	return out, nil
}

func (s *MemoryChannelStore) ListActive(ctx context.Context) ([]domain.ChannelState, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, st := range all {
		if st.WantsChat() {
			out = append(out, st)
		}
	}
	return out, nil
}
