package main

import (
	"bufio"
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomkit/loom/internal/botfile"
	"github.com/loomkit/loom/internal/config"
	"github.com/loomkit/loom/internal/convo"
)

func buildChatCmd() *cobra.Command {
	var botPath, botName, engineName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive REPL over a bot's conversation tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var (
				bot *botfile.Bot
				err error
			)
			if botPath != "" {
				bot, err = loadBot(ctx, botPath)
			} else {
				bot, err = newBot(ctx, botName, engineName)
			}
			if err != nil {
				return err
			}

			return runChatLoop(ctx, cmd, bot)
		},
	}

	cmd.Flags().StringVar(&botPath, "bot", "", "existing .bot file to resume")
	cmd.Flags().StringVar(&botName, "name", "loom", "name for a freshly created bot (ignored with --bot)")
	cmd.Flags().StringVar(&engineName, "engine", "", "engine name, defaults to loom.yaml's engine")
	return cmd
}

// runChatLoop drives a line-oriented REPL: lines starting with "/" are
// tree-navigation commands (§4.3), everything else is sent as a prompt
// through bot.Respond. Navigation commands operate on bot.Tree directly
// plus bot.Labels, so label bindings the REPL creates are the same ones
// persisted by a later save.
func runChatLoop(ctx context.Context, cmd *cobra.Command, bot *botfile.Bot) error {
	nv := convo.NewNavigator(bot.Tree)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	cmd.Println("loom chat — type /help for navigation commands, /quit to exit")

	if watchConfig {
		stop := make(chan struct{})
		defer close(stop)
		if err := config.Watch(configPath, stop, func(cfg *config.Config) {
			bot.ApplyConfig(cfg.SystemMessage, cfg.MaxTokens, cfg.Temperature)
			cmd.Printf("\n[config reloaded from %s]\n> ", configPath)
		}); err != nil {
			slog.Warn("loom: --watch-config requested but watcher failed to start", "path", configPath, "error", err)
		}
	}

	for {
		cmd.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleChatCommand(cmd, bot, nv, line); done {
				return nil
			}
			continue
		}

		text, _, err := bot.Respond(ctx, line)
		if err != nil {
			cmd.PrintErrf("error: %v\n", err)
			continue
		}
		cmd.Println(text)
	}
}

func handleChatCommand(cmd *cobra.Command, bot *botfile.Bot, nv *convo.Navigator, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		cmd.Println("/up /down [i] /left /right /root /undo /leaves /goto_leaf <k> /label <name> /goto <name> /save [path] /quit")
	case "/up":
		printNavErr(cmd, nv.Up())
	case "/down":
		idx := -1
		if len(fields) > 1 {
			idx, _ = strconv.Atoi(fields[1])
		}
		printNavErr(cmd, nv.Down(idx))
	case "/left":
		printNavErr(cmd, nv.Left())
	case "/right":
		printNavErr(cmd, nv.Right())
	case "/root":
		nv.Root()
	case "/undo":
		nv.Undo()
	case "/leaves":
		for _, lv := range nv.Leaves() {
			cmd.Printf("[%d] %v: %s\n", lv.Index, lv.Path, lv.Preview)
		}
	case "/goto_leaf":
		if len(fields) < 2 {
			cmd.PrintErrln("usage: /goto_leaf <k>")
			return false
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil {
			cmd.PrintErrln("usage: /goto_leaf <k>")
			return false
		}
		printNavErr(cmd, nv.GotoLeaf(k))
	case "/label":
		if len(fields) < 2 {
			cmd.PrintErrln("usage: /label <name>")
			return false
		}
		bot.Labels[fields[1]] = bot.Tree.Cursor
	case "/goto":
		if len(fields) < 2 {
			cmd.PrintErrln("usage: /goto <name>")
			return false
		}
		node, ok := bot.Labels[fields[1]]
		if !ok {
			cmd.PrintErrf("no such label %q\n", fields[1])
			return false
		}
		bot.Tree.Cursor = node
	case "/save":
		path := bot.LastSavePath
		if len(fields) > 1 {
			path = fields[1]
		}
		if path == "" {
			cmd.PrintErrln("usage: /save <path> (no prior save path known)")
			return false
		}
		if err := bot.Save(path); err != nil {
			cmd.PrintErrf("save failed: %v\n", err)
			return false
		}
		cmd.Printf("saved to %s\n", path)
	default:
		cmd.PrintErrf("unknown command %q, try /help\n", fields[0])
	}
	return false
}

func printNavErr(cmd *cobra.Command, err error) {
	if err != nil {
		cmd.PrintErrf("error: %v\n", err)
	}
}
