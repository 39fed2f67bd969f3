package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var botPath, botName, engineName, prompt string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a single prompt to a bot and print its reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("loom run: --prompt is required")
			}
			ctx := context.Background()

			if botPath != "" {
				b, err := loadBot(ctx, botPath)
				if err != nil {
					return err
				}
				text, _, err := b.Respond(ctx, prompt)
				if err != nil {
					return err
				}
				cmd.Println(text)
				return nil
			}

			b, err := newBot(ctx, botName, engineName)
			if err != nil {
				return err
			}
			text, _, err := b.Respond(ctx, prompt)
			if err != nil {
				return err
			}
			cmd.Println(text)
			if b.Autosave {
				path, err := b.SaveAutosave()
				if err != nil {
					return err
				}
				cmd.PrintErrf("saved to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&botPath, "bot", "", "existing .bot file to resume for this one turn")
	cmd.Flags().StringVar(&botName, "name", "loom", "name for a freshly created bot (ignored with --bot)")
	cmd.Flags().StringVar(&engineName, "engine", "", "engine name, defaults to loom.yaml's engine")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text to send")
	return cmd
}
