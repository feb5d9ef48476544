package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelotc/stream-pal-ai/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	m := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}
	m.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				conn, err := a.database()
				if err != nil {
					return err
				}
				if err := db.RunMigrations(conn); err != nil {
					return err
				}
				return printVersion(a)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				conn, err := a.database()
				if err != nil {
					return err
				}
				if err := db.MigrateDown(conn); err != nil {
					return err
				}
				return printVersion(a)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return printVersion(a)
			},
		},
	)
	return m
}

func printVersion(a *app) error {
	conn, err := a.database()
	if err != nil {
		return err
	}
	v, dirty, err := db.GetMigrationVersion(conn)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "version %d dirty=%t\n", v, dirty)
	return nil
}
