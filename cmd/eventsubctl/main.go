// Command eventsubctl is the operator CLI for the chat bot: it inspects and
// reconciles EventSub subscriptions, posts a test chat message and runs
// schema migrations against the configured database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelotc/stream-pal-ai/config"
	"github.com/angelotc/stream-pal-ai/db"
	"github.com/angelotc/stream-pal-ai/eventsub"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

// app carries lazily built dependencies so subcommands only connect to what they use.
type app struct {
	cfg *config.Config
	out io.Writer

	// overrides for tests
	helixURL string
	channels eventsub.ChannelStore
	openDB   func(dsn string) (*sql.DB, error)

	tokens *twitchapi.AppTokenSource
	helix  *twitchapi.HelixClient
	db     *sql.DB
}

func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) helixClient() (*twitchapi.HelixClient, error) {
	if a.helix != nil {
		return a.helix, nil
	}
	if a.cfg.TwitchClientID == "" || a.cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
	}
	if a.tokens == nil {
		a.tokens = &twitchapi.AppTokenSource{ClientID: a.cfg.TwitchClientID, ClientSecret: a.cfg.TwitchClientSecret}
	}
	a.helix = &twitchapi.HelixClient{AppTokenSource: a.tokens, ClientID: a.cfg.TwitchClientID, BaseURL: a.helixURL}
	return a.helix, nil
}

func (a *app) database() (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	open := a.openDB
	if open == nil {
		open = db.Connect
	}
	conn, err := open(a.cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = conn
	return conn, nil
}

func (a *app) channelStore() (eventsub.ChannelStore, error) {
	if a.channels != nil {
		return a.channels, nil
	}
	conn, err := a.database()
	if err != nil {
		return nil, err
	}
	return db.NewChannelStore(conn), nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.Any("err", err))
		}
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "eventsubctl",
		Short:         "Operate the chat bot's Twitch subscriptions and database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.out == nil {
				a.out = cmd.OutOrStdout()
			}
			return a.loadConfig()
		},
	}
	root.AddCommand(newSubsCmd(a), newSayCmd(a), newMigrateCmd(a))
	return root
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		a.close()
		os.Exit(1)
	}
}
