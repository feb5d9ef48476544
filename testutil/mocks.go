package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// SentChatMessage is a POST /helix/chat/messages body captured by the mock.
type SentChatMessage struct {
	BroadcasterID string `json:"broadcaster_id"`
	SenderID      string `json:"sender_id"`
	Message       string `json:"message"`
}

// MockTwitchServer creates a test server that mocks the Twitch Helix API. It
// keeps an in-memory EventSub subscription list so reconcile behaviour can be
// asserted against it. Entries in Handlers override the built-in routes.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
	// FailCreate makes POST /helix/eventsub/subscriptions for a type answer with the given status.
	FailCreate map[string]int
	// PageSize bounds list responses so pagination is exercised.
	PageSize int

	mu     sync.Mutex
	nextID int
	subs   []twitchapi.Subscription
	sent   []SentChatMessage
	calls  map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers:   make(map[string]http.HandlerFunc),
		FailCreate: make(map[string]int),
		PageSize:   100,
		calls:      make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[r.Method+" "+key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		switch key {
		case "/helix/eventsub/subscriptions":
			m.serveSubscriptions(w, r)
		case "/helix/chat/messages":
			m.serveChat(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to hand to twitchapi.HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// Calls returns how often "METHOD /path" was requested.
func (m *MockTwitchServer) Calls(methodPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[methodPath]
}

// Subscriptions returns a copy of the current subscription list.
func (m *MockTwitchServer) Subscriptions() []twitchapi.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]twitchapi.Subscription(nil), m.subs...)
}

// AddSubscription seeds a subscription and returns its id.
func (m *MockTwitchServer) AddSubscription(s twitchapi.Subscription) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		m.nextID++
		s.ID = "sub-" + strconv.Itoa(m.nextID)
	}
	if s.Status == "" {
		s.Status = "enabled"
	}
	m.subs = append(m.subs, s)
	return s.ID
}

// SentMessages returns the captured chat sends.
func (m *MockTwitchServer) SentMessages() []SentChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentChatMessage(nil), m.sent...)
}

func sameCondition(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (m *MockTwitchServer) serveSubscriptions(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		var filtered []twitchapi.Subscription
		for _, s := range m.subs {
			if userID == "" {
				filtered = append(filtered, s)
				continue
			}
			for _, v := range s.Condition {
				if v == userID {
					filtered = append(filtered, s)
					break
				}
			}
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("after"))
		if start > len(filtered) {
			start = len(filtered)
		}
		end := start + m.PageSize
		cursor := ""
		if end < len(filtered) {
			cursor = strconv.Itoa(end)
		} else {
			end = len(filtered)
		}
		page := filtered[start:end]
		if page == nil {
			page = []twitchapi.Subscription{}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"data":       page,
			"total":      len(filtered),
			"pagination": map[string]string{"cursor": cursor},
		})
	case http.MethodPost:
		var req twitchapi.CreateSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if code, ok := m.FailCreate[req.Type]; ok {
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error":"injected","status":%d}`, code)
			return
		}
		for _, s := range m.subs {
			if s.Type == req.Type && s.Status == "enabled" && sameCondition(s.Condition, req.Condition) {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
				return
			}
		}
		m.nextID++
		sub := twitchapi.Subscription{
			ID:        "sub-" + strconv.Itoa(m.nextID),
			Status:    "enabled",
			Type:      req.Type,
			Version:   req.Version,
			Condition: req.Condition,
			Transport: twitchapi.Transport{Method: req.Transport.Method, Callback: req.Transport.Callback},
		}
		m.subs = append(m.subs, sub)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []twitchapi.Subscription{sub}}) //nolint:errcheck // test mock response
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		for i, s := range m.subs {
			if s.ID == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockTwitchServer) serveChat(w http.ResponseWriter, r *http.Request) {
	var msg SentChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	n := len(m.sent)
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
		"data": []map[string]interface{}{{"message_id": "msg-" + strconv.Itoa(n), "is_sent": true}},
	})
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": streams}) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
