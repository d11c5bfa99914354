package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "migrations up to date")
		return nil
	},
}

var reindexTimeout time.Duration

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Meilisearch index from the database",
	Long: `Rebuild the page index from the database.

Requires MEILI_URL. Without it search runs on Postgres full-text search
and there is nothing to rebuild.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), reindexTimeout)
		defer cancel()
		n, err := rt.search.ReindexAll(ctx)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d pages\n", n)
		return nil
	},
}

var publishDueCmd = &cobra.Command{
	Use:   "publish-due",
	Short: "Publish pages whose scheduled time has passed",
	Long: `Publish every page whose scheduled publish time has passed.

The server does this every minute; this command runs one pass for
deployments that run the scheduler externally.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.service.PublishDuePages(cmd.Context())
		if err != nil {
			return fmt.Errorf("publish due pages: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d pages\n", n)
		return nil
	},
}

func init() {
	reindexCmd.Flags().DurationVar(&reindexTimeout, "timeout", 10*time.Minute, "maximum time to spend reindexing")
}
