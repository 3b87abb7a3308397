package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antoniostano/recall/internal/app"
	"github.com/antoniostano/recall/internal/memory"
)

func newContextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "context <user-id> <session-id>",
		Short: "Print the memory context block for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(_ context.Context, svc *app.BuildResult) error {
				prompt := svc.Memory.GenerateContextPrompt(args[0], args[1])
				if prompt == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "no memory for this user")
					return nil
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), prompt)
				return err
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print every remembered session of a user, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(_ context.Context, svc *app.BuildResult) error {
				hist := svc.Memory.GetUserHistory(args[0])
				if hist == nil {
					hist = []memory.ConversationMemory{}
				}
				return printJSON(cmd.OutOrStdout(), hist)
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Forget every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(_ context.Context, svc *app.BuildResult) error {
				n := svc.Memory.ClearUserMemories(args[0])
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %d memories\n", n)
				return err
			})
		},
	}
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove memories past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withService(cmd, func(_ context.Context, svc *app.BuildResult) error {
				n := svc.Memory.CleanupOldMemories()
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %d memories older than %s\n", n, svc.Config.MemoryRetention)
				return err
			})
		},
	}
}
