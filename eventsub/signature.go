// Package eventsub handles Twitch EventSub webhooks: signature verification,
// notification parsing, and reconciliation of a channel's subscriptions.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/angelotc/stream-pal-ai/domain"
)

// Webhook headers set by Twitch on every delivery.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
)

const signaturePrefix = "sha256="

var (
	errMissingSignatureInput = errors.New("missing signature input")
	errSignatureMismatch     = errors.New("signature mismatch")
)

// Sign returns the signature Twitch computes for a delivery:
// "sha256=" + hex(HMAC-SHA256(secret, id + timestamp + body)).
func Sign(secret []byte, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery signature over the raw body. It fails closed: an
// empty secret, id, timestamp or signature is rejected. The returned error is
// always of kind domain.KindAuthentication.
func Verify(secret []byte, messageID, timestamp, signature string, body []byte) error {
	if len(secret) == 0 || messageID == "" || timestamp == "" || signature == "" {
		return domain.NewError(domain.KindAuthentication, "eventsub.Verify", errMissingSignatureInput)
	}
	want := Sign(secret, messageID, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return domain.NewError(domain.KindAuthentication, "eventsub.Verify", errSignatureMismatch)
	}
	return nil
}
