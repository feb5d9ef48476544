package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/angelotc/stream-pal-ai/secrets"
)

// ApplySecrets overlays secret values from getter under prefix. Parameters
// that do not exist leave the environment value in place.
func (c *Config) ApplySecrets(ctx context.Context, getter secrets.Getter, prefix string) error {
	if getter == nil || prefix == "" {
		return nil
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"twitch-webhook-secret", &c.WebhookSecret},
		{"twitch-client-secret", &c.TwitchClientSecret},
		{"twitch-oauth-token", &c.TwitchOAuthToken},
		{"llm-api-key", &c.LLMAPIKey},
	}
	for _, f := range fields {
		name := prefix + "/" + f.name
		v, err := getter.GetParameter(ctx, name)
		if errors.Is(err, secrets.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("apply secret %s: %w", name, err)
		}
		*f.dst = v
		slog.Debug("secret loaded from parameter store", slog.String("name", name))
	}
	return nil
}
