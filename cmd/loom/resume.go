package main

import (
	"context"

	"github.com/spf13/cobra"
)

// buildResumeCmd loads an existing bot file and drops straight into the
// same interactive loop chat uses, so resuming a conversation and
// starting one differ only in where the Bot comes from.
func buildResumeCmd() *cobra.Command {
	var botPath string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Reopen an existing .bot file and continue its conversation interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if botPath == "" {
				if len(args) == 0 {
					return cmd.Usage()
				}
				botPath = args[0]
			}
			ctx := context.Background()
			bot, err := loadBot(ctx, botPath)
			if err != nil {
				return err
			}
			return runChatLoop(ctx, cmd, bot)
		},
	}
	cmd.Flags().StringVar(&botPath, "bot", "", "bot file to resume (or pass it as the first positional argument)")
	return cmd
}
