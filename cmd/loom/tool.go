package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomkit/loom/internal/toolkit"
)

func buildToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Manage a bot file's tool registry",
	}
	cmd.AddCommand(buildToolAddCmd())
	return cmd
}

func buildToolAddCmd() *cobra.Command {
	var botPath, name, description, schemaPath string

	cmd := &cobra.Command{
		Use:   "add <source.go>",
		Short: "Register a tool from a Go source file into a bot file",
		Long: "Reads sourcePath, snapshots it as the tool's persisted source (§4.4), " +
			"and binds it to toolkit.SourceExecFunc so the tool is immediately " +
			"runnable in this process without a compile-time factory. The bot " +
			"file is re-saved in place.\n\n" +
			"--schema takes a hand-authored JSON Schema file: a raw .go source " +
			"file on disk has no live Go struct for toolkit.GenerateSchema to " +
			"reflect over, so a tool added this way can only get the same " +
			"reflection-derived schema a compiled-in tool gets if the author " +
			"supplies one directly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePath := args[0]
			if err := toolkit.ValidatePathValue(sourcePath); err != nil {
				return fmt.Errorf("loom tool add: %w: %q", err, sourcePath)
			}
			source, err := os.ReadFile(sourcePath)
			if err != nil {
				return err
			}

			toolName := name
			if toolName == "" {
				base := filepath.Base(sourcePath)
				toolName = strings.TrimSuffix(base, filepath.Ext(base))
			}

			var schema json.RawMessage
			if schemaPath != "" {
				if err := toolkit.ValidatePathValue(schemaPath); err != nil {
					return fmt.Errorf("loom tool add: %w: %q", err, schemaPath)
				}
				raw, err := os.ReadFile(schemaPath)
				if err != nil {
					return err
				}
				if !json.Valid(raw) {
					return fmt.Errorf("loom tool add: %q is not valid JSON", schemaPath)
				}
				schema = json.RawMessage(raw)
			}

			fn, err := toolkit.SourceExecFunc(string(source))
			if err != nil {
				return err
			}

			ctx := context.Background()
			bot, err := loadBot(ctx, botPath)
			if err != nil {
				return err
			}

			if err := bot.Registry.AddTool(toolkit.Definition{
				Name:        toolName,
				Description: description,
				Schema:      schema,
				Source:      string(source),
				OriginPath:  sourcePath,
				Fn:          fn,
			}); err != nil {
				return err
			}

			if err := bot.Save(botPath); err != nil {
				return err
			}
			cmd.Printf("added tool %q to %s\n", toolName, botPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&botPath, "bot", "", "bot file to modify")
	cmd.Flags().StringVar(&name, "name", "", "tool name, defaults to the source file's base name")
	cmd.Flags().StringVar(&description, "description", "", "tool description shown to the model")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a JSON Schema file describing the tool's parameters")
	cobra.CheckErr(cmd.MarkFlagRequired("bot"))
	return cmd
}
