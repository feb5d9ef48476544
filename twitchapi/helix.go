// Package twitchapi contains the Twitch Helix client used by the bot: app token
// management, EventSub subscription CRUD, user lookup and chat message sending.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// EventSub subscription types managed by the bot.
const (
	SubStreamOnline  = "stream.online"
	SubStreamOffline = "stream.offline"
	SubChatMessage   = "channel.chat.message"
)

// TokenProvider supplies app access tokens and allows the cache to be dropped
// after the API rejects one.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
	Invalidate()
}

// HelixClient is a minimal Helix API client authenticated with an app token.
type HelixClient struct {
	AppTokenSource TokenProvider
	ClientID       string
	// BaseURL defaults to https://api.twitch.tv/helix.
	BaseURL    string
	HTTPClient *http.Client
}

// Transport is the delivery target of a subscription.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is an EventSub subscription as reported by Helix.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt string            `json:"created_at"`
}

// Active reports whether Twitch is delivering events for the subscription.
func (s Subscription) Active() bool {
	return s.Status == "enabled"
}

// CreateSubscriptionRequest is the body of POST /eventsub/subscriptions.
type CreateSubscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) endpoint(path string, q url.Values) string {
	base := strings.TrimRight(hc.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do sends an authenticated request and decodes a 2xx JSON body into out (if
// non-nil). A 401 drops the cached app token before the error is returned.
func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	if hc.AppTokenSource == nil {
		return errors.New("helix client has no token source")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	u := hc.endpoint(path, q)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		hc.AppTokenSource.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: method + " " + path, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", url.Values{"login": {login}}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// IsStreamLive reports whether the broadcaster currently has a live stream.
func (hc *HelixClient) IsStreamLive(ctx context.Context, broadcasterID string) (bool, error) {
	if broadcasterID == "" {
		return false, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/streams", url.Values{"user_id": {broadcasterID}}, nil, &body); err != nil {
		return false, err
	}
	return len(body.Data) > 0 && body.Data[0].Type == "live", nil
}

// ListSubscriptions returns every EventSub subscription visible to the app,
// following pagination cursors. A non-empty userID narrows the listing to
// subscriptions whose condition references that user.
func (hc *HelixClient) ListSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	var out []Subscription
	after := ""
	for {
		q := url.Values{}
		if userID != "" {
			q.Set("user_id", userID)
		}
		if after != "" {
			q.Set("after", after)
		}
		var body struct {
			Data       []Subscription `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.do(ctx, http.MethodGet, "/eventsub/subscriptions", q, nil, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
		if body.Pagination.Cursor == "" || body.Pagination.Cursor == after {
			return out, nil
		}
		after = body.Pagination.Cursor
	}
}

// CreateSubscription registers a subscription. An existing identical
// subscription yields ErrConflict.
func (hc *HelixClient) CreateSubscription(ctx context.Context, r CreateSubscriptionRequest) (Subscription, error) {
	if r.Type == "" || len(r.Condition) == 0 {
		return Subscription{}, fmt.Errorf("subscription type and condition required")
	}
	if r.Version == "" {
		r.Version = "1"
	}
	var body struct {
		Data []Subscription `json:"data"`
	}
	err := hc.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, r, &body)
	if StatusCode(err) == http.StatusConflict {
		return Subscription{}, fmt.Errorf("%s: %w", r.Type, ErrConflict)
	}
	if err != nil {
		return Subscription{}, err
	}
	if len(body.Data) == 0 {
		return Subscription{Type: r.Type, Version: r.Version, Condition: r.Condition}, nil
	}
	return body.Data[0], nil
}

// DeleteSubscription removes a subscription. A missing subscription is not an error.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("subscription id empty")
	}
	err := hc.do(ctx, http.MethodDelete, "/eventsub/subscriptions", url.Values{"id": {id}}, nil, nil)
	if StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// SendChatMessage posts text to the broadcaster's chat as senderID and returns
// the Twitch message id.
func (hc *HelixClient) SendChatMessage(ctx context.Context, broadcasterID, senderID, text string) (string, error) {
	if broadcasterID == "" || senderID == "" {
		return "", fmt.Errorf("broadcaster and sender ids required")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("message empty")
	}
	in := map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        text,
	}
	var body struct {
		Data []struct {
			MessageID  string `json:"message_id"`
			IsSent     bool   `json:"is_sent"`
			DropReason *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"drop_reason"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/chat/messages", nil, in, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("empty chat send response")
	}
	d := body.Data[0]
	if !d.IsSent {
		if d.DropReason != nil {
			return "", fmt.Errorf("chat message dropped: %s: %s", d.DropReason.Code, d.DropReason.Message)
		}
		return "", fmt.Errorf("chat message dropped")
	}
	return d.MessageID, nil
}

// ChatSender posts as a fixed bot account.
type ChatSender struct {
	Client   *HelixClient
	SenderID string
}

// Send posts text to the broadcaster's chat.
func (s *ChatSender) Send(ctx context.Context, broadcasterID, text string) error {
	_, err := s.Client.SendChatMessage(ctx, broadcasterID, s.SenderID, text)
	return err
}
