package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "say BROADCASTER_ID MESSAGE...",
		Short: "Post a chat message as the bot account",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.TwitchBotUserID == "" {
				return fmt.Errorf("TWITCH_BOT_USER_ID is required")
			}
			helix, err := a.helixClient()
			if err != nil {
				return err
			}
			id, err := helix.SendChatMessage(cmd.Context(), args[0], a.cfg.TwitchBotUserID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "sent %s\n", id)
			return nil
		},
	}
}
