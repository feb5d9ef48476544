package eventsub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelotc/stream-pal-ai/domain"
)

func TestVerify_AcceptsValidSignature(t *testing.T) {
	secret := []byte("s3cret-webhook")
	body := []byte(`{"subscription":{"type":"stream.online"},"event":{"broadcaster_user_id":"42"}}`)
	sig := Sign(secret, "msg-1", "2025-01-01T00:00:00Z", body)

	require.NoError(t, Verify(secret, "msg-1", "2025-01-01T00:00:00Z", sig, body))
	require.Equal(t, "sha256=", sig[:7])
}

func TestVerify_RejectsAnySingleByteMutation(t *testing.T) {
	secret := []byte("s3cret-webhook")
	id, ts := "msg-1", "2025-01-01T00:00:00Z"
	body := []byte(`{"a":1}`)
	sig := Sign(secret, id, ts, body)

	mutate := func(s []byte, i int) []byte {
		out := append([]byte(nil), s...)
		out[i] ^= 0x01
		return out
	}
	for i := range body {
		err := Verify(secret, id, ts, sig, mutate(body, i))
		require.Error(t, err, "body byte %d", i)
		require.True(t, domain.IsKind(err, domain.KindAuthentication))
	}
	for i := range id {
		require.Error(t, Verify(secret, string(mutate([]byte(id), i)), ts, sig, body), "id byte %d", i)
	}
	for i := range ts {
		require.Error(t, Verify(secret, id, string(mutate([]byte(ts), i)), sig, body), "timestamp byte %d", i)
	}
}

func TestVerify_FailsClosed(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{}`)
	sig := Sign(secret, "id", "ts", body)

	tests := []struct {
		name              string
		secret            []byte
		id, ts, signature string
	}{
		{"missing secret", nil, "id", "ts", sig},
		{"missing id", secret, "", "ts", sig},
		{"missing timestamp", secret, "id", "", sig},
		{"missing signature", secret, "id", "ts", ""},
		{"wrong secret", []byte("other"), "id", "ts", sig},
		{"unprefixed", secret, "id", "ts", sig[len("sha256="):]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.id, tt.ts, tt.signature, body)
			require.Error(t, err)
			require.Equal(t, domain.KindAuthentication, domain.KindOf(err))
		})
	}
}
