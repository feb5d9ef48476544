package eventsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// Message types carried in HeaderMessageType.
const (
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
)

// SubscriptionInfo is the subscription block of a webhook envelope.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

type envelope struct {
	Challenge    string           `json:"challenge"`
	Subscription SubscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
}

// Notification is one of Verification, StreamOnline, StreamOffline,
// ChatMessage, Revocation or Other.
type Notification interface {
	Sub() SubscriptionInfo
}

// Verification asks the callback to echo Challenge.
type Verification struct {
	Subscription SubscriptionInfo
	Challenge    string
}

type StreamOnline struct {
	Subscription     SubscriptionInfo
	BroadcasterID    string
	BroadcasterLogin string
	StartedAt        time.Time
}

type StreamOffline struct {
	Subscription     SubscriptionInfo
	BroadcasterID    string
	BroadcasterLogin string
}

// ChatMessage is a channel.chat.message event.
type ChatMessage struct {
	Subscription  SubscriptionInfo
	MessageID     string
	BroadcasterID string
	ChatterID     string
	ChatterLogin  string
	ChatterName   string
	Text          string
}

// Revocation reports that Twitch stopped delivering a subscription. The
// reason is Subscription.Status.
type Revocation struct {
	Subscription SubscriptionInfo
}

// Other is an acknowledged but unhandled notification.
type Other struct {
	Subscription SubscriptionInfo
	Type         string
}

func (n Verification) Sub() SubscriptionInfo  { return n.Subscription }
func (n StreamOnline) Sub() SubscriptionInfo  { return n.Subscription }
func (n StreamOffline) Sub() SubscriptionInfo { return n.Subscription }
func (n ChatMessage) Sub() SubscriptionInfo   { return n.Subscription }
func (n Revocation) Sub() SubscriptionInfo    { return n.Subscription }
func (n Other) Sub() SubscriptionInfo         { return n.Subscription }

// Event converts the chat message into a storable event received at ts.
func (m ChatMessage) Event(ts time.Time) domain.Event {
	name := m.ChatterName
	if name == "" {
		name = m.ChatterLogin
	}
	if name == "" {
		name = domain.AnonymousChatter
	}
	return domain.Event{
		BroadcasterID:     m.BroadcasterID,
		ProviderMessageID: m.MessageID,
		ChatterID:         m.ChatterID,
		ChatterName:       name,
		Text:              m.Text,
		Source:            domain.SourceTwitch,
		CreatedAt:         ts,
	}
}

func invalid(format string, args ...any) error {
	return domain.NewError(domain.KindValidation, "eventsub.Parse", fmt.Errorf(format, args...))
}

// Parse decodes a verified webhook body into a Notification. Malformed JSON or
// missing required fields yield a domain.KindValidation error.
func Parse(messageType string, body []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid("decode envelope: %w", err)
	}
	switch messageType {
	case MessageTypeVerification:
		if env.Challenge == "" {
			return nil, invalid("verification without challenge")
		}
		return Verification{Subscription: env.Subscription, Challenge: env.Challenge}, nil
	case MessageTypeRevocation:
		if env.Subscription.Type == "" {
			return nil, invalid("revocation without subscription type")
		}
		return Revocation{Subscription: env.Subscription}, nil
	case MessageTypeNotification:
		return parseEvent(env)
	case "":
		return nil, invalid("missing message type")
	default:
		return Other{Subscription: env.Subscription, Type: messageType}, nil
	}
}

func parseEvent(env envelope) (Notification, error) {
	if len(env.Event) == 0 || string(env.Event) == "null" {
		return nil, invalid("notification without event")
	}
	sub := env.Subscription
	switch sub.Type {
	case twitchapi.SubStreamOnline:
		var e struct {
			BroadcasterUserID    string `json:"broadcaster_user_id"`
			BroadcasterUserLogin string `json:"broadcaster_user_login"`
			StartedAt            string `json:"started_at"`
		}
		if err := json.Unmarshal(env.Event, &e); err != nil {
			return nil, invalid("decode %s: %w", sub.Type, err)
		}
		if e.BroadcasterUserID == "" {
			return nil, invalid("%s: missing broadcaster_user_id", sub.Type)
		}
		n := StreamOnline{Subscription: sub, BroadcasterID: e.BroadcasterUserID, BroadcasterLogin: e.BroadcasterUserLogin}
		if e.StartedAt != "" {
			if t, err := time.Parse(time.RFC3339, e.StartedAt); err == nil {
				n.StartedAt = t
			}
		}
		return n, nil
	case twitchapi.SubStreamOffline:
		var e struct {
			BroadcasterUserID    string `json:"broadcaster_user_id"`
			BroadcasterUserLogin string `json:"broadcaster_user_login"`
		}
		if err := json.Unmarshal(env.Event, &e); err != nil {
			return nil, invalid("decode %s: %w", sub.Type, err)
		}
		if e.BroadcasterUserID == "" {
			return nil, invalid("%s: missing broadcaster_user_id", sub.Type)
		}
		return StreamOffline{Subscription: sub, BroadcasterID: e.BroadcasterUserID, BroadcasterLogin: e.BroadcasterUserLogin}, nil
	case twitchapi.SubChatMessage:
		var e struct {
			BroadcasterUserID string `json:"broadcaster_user_id"`
			ChatterUserID     string `json:"chatter_user_id"`
			ChatterUserLogin  string `json:"chatter_user_login"`
			ChatterUserName   string `json:"chatter_user_name"`
			MessageID         string `json:"message_id"`
			Message           struct {
				Text string `json:"text"`
			} `json:"message"`
		}
		if err := json.Unmarshal(env.Event, &e); err != nil {
			return nil, invalid("decode %s: %w", sub.Type, err)
		}
		var missing []string
		if e.BroadcasterUserID == "" {
			missing = append(missing, "broadcaster_user_id")
		}
		if e.ChatterUserID == "" {
			missing = append(missing, "chatter_user_id")
		}
		if e.MessageID == "" {
			missing = append(missing, "message_id")
		}
		if len(missing) > 0 {
			return nil, invalid("%s: missing %s", sub.Type, strings.Join(missing, ", "))
		}
		return ChatMessage{
			Subscription:  sub,
			MessageID:     e.MessageID,
			BroadcasterID: e.BroadcasterUserID,
			ChatterID:     e.ChatterUserID,
			ChatterLogin:  e.ChatterUserLogin,
			ChatterName:   e.ChatterUserName,
			Text:          e.Message.Text,
		}, nil
	case "":
		return nil, invalid("notification without subscription type")
	default:
		return Other{Subscription: sub, Type: sub.Type}, nil
	}
}

