package main

import (
	"github.com/spf13/cobra"
)

var configPath string
var watchConfig bool

// buildRootCmd constructs the root command, separated from main() so
// it can be exercised by tests without a process exit.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loom",
		Short:         "loom drives an agentic LLM conversation tree from the command line",
		Long:          "loom is the CLI front end for the conversation-tree, tool-registry, and step-machine runtime described in loom's core spec: create, chat with, resume, and extend bot files.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "loom.yaml", "path to loom.yaml")
	root.PersistentFlags().BoolVar(&watchConfig, "watch-config", false, "reload loom.yaml on change for long-running commands")

	root.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildResumeCmd(),
		buildToolCmd(),
	)
	return root
}
