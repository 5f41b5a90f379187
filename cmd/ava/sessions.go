package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ava/internal/config"
	"github.com/ent0n29/ava/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored chats",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored chats, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(store session.Store) error {
					return listSessions(cmd.Context(), store, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a stored chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(store session.Store) error {
					return showSession(cmd.Context(), store, cmd.OutOrStdout(), args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a stored chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(store session.Store) error {
					if err := store.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(ctx context.Context, fn func(session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	store, err := session.NewStore(ctx, session.StoreConfig{
		Backend:     cfg.StoreBackend,
		Dir:         cfg.ChatDir,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("session store init failed: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func listSessions(ctx context.Context, store session.Store, out io.Writer) error {
	items, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "no stored chats")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE")
	for _, it := range items {
		title := it.Title
		if it.Corrupt {
			title += " (unreadable)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", it.ID, title)
	}
	return tw.Flush()
}

func showSession(ctx context.Context, store session.Store, out io.Writer, id string) error {
	sess, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	printTranscript(out, sess.DisplayTitle(), sess.Messages, false)
	return nil
}

