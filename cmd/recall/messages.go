package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/recall/internal/app"
	"github.com/antoniostano/recall/internal/history"
)

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect the per-user chat message history",
	}
	cmd.AddCommand(
		newMessagesRecentCmd(opts),
		newMessagesDebugCmd(opts),
		newMessagesClearCmd(opts),
	)
	return cmd
}

func newMessagesRecentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recent <user-id>",
		Short: "Print the user's latest messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *app.BuildResult) error {
				msgs := svc.History.Recent(ctx, args[0])
				if msgs == nil {
					msgs = []history.Message{}
				}
				return printJSON(cmd.OutOrStdout(), msgs)
			})
		},
	}
}

func newMessagesDebugCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "debug <user-id>",
		Short: "Print what the local mirror and the remote store hold for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *app.BuildResult) error {
				return printJSON(cmd.OutOrStdout(), svc.History.Inspect(ctx, args[0]))
			})
		},
	}
}

func newMessagesClearCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Delete the user's messages locally and remotely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *app.BuildResult) error {
				task := svc.History.Clear(args[0])
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				if err := task.Wait(waitCtx); err != nil {
					return fmt.Errorf("clear messages: %w", err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared messages for %s\n", args[0])
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the remote delete")
	return cmd
}
