package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angelotc/stream-pal-ai/config"
	"github.com/angelotc/stream-pal-ai/eventsub"
)

func newSubsCmd(a *app) *cobra.Command {
	subs := &cobra.Command{
		Use:   "subs",
		Short: "Inspect and reconcile EventSub subscriptions",
	}

	var broadcaster string
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions, optionally for one broadcaster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			helix, err := a.helixClient()
			if err != nil {
				return err
			}
			subs, err := helix.ListSubscriptions(cmd.Context(), broadcaster)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tBROADCASTER\tCALLBACK")
			for _, s := range subs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Status, s.Condition["broadcaster_user_id"], s.Transport.Callback)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&broadcaster, "broadcaster", "", "filter by broadcaster user id")

	var enabled bool
	reconcile := &cobra.Command{
		Use:   "reconcile BROADCASTER_ID",
		Short: "Converge a channel's subscriptions to its desired set",
		Long: "Reconcile creates and deletes subscriptions so they match the channel's live and bot state.\n" +
			"Without --enabled the stored bot toggle is used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateWebhookReady(); err != nil {
				return err
			}
			helix, err := a.helixClient()
			if err != nil {
				return err
			}
			channels, err := a.channelStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]
			desired := enabled
			if !cmd.Flags().Changed("enabled") {
				st, err := channels.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("load channel %s: %w", id, err)
				}
				desired = st.BotEnabled
			}
			mgr := eventsub.NewManager(helix, channels, eventsub.ManagerConfig{
				CallbackURL: a.cfg.CallbackURL,
				Secret:      a.cfg.WebhookSecret,
				BotUserID:   a.cfg.TwitchBotUserID,
				ChatOverIRC: a.cfg.ChatIngest == config.IngestIRC,
			})
			res, rerr := mgr.Reconcile(ctx, id, desired)
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return rerr
		},
	}
	reconcile.Flags().BoolVar(&enabled, "enabled", false, "desired bot state (defaults to the stored toggle)")

	subs.AddCommand(list, reconcile)
	return subs
}
