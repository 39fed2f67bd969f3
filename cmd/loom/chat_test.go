package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/internal/botfile"
	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/mailbox"
	"github.com/loomkit/loom/internal/stepmachine"
	"github.com/loomkit/loom/internal/toolkit"
)

// stubMailbox answers every send with a fixed string, so chat-command
// tests never need a real provider.
type stubMailbox struct{}

func (stubMailbox) Name() string                                              { return "stub" }
func (stubMailbox) BuildRequest(view mailbox.RequestView) (any, error)        { return view, nil }
func (stubMailbox) Send(ctx context.Context, wireRequest any) (any, error)    { return "ok", nil }
func (stubMailbox) ExtractText(rawResponse any) string                       { return rawResponse.(string) }
func (stubMailbox) ExtractToolCalls(rawResponse any) []convo.ToolCall        { return nil }
func (stubMailbox) ExtractUsage(rawResponse any) mailbox.Usage               { return mailbox.Usage{} }
func (stubMailbox) Classify(err error) mailbox.ErrorClass                    { return mailbox.ErrorFatal }

func newTestBot() *botfile.Bot {
	registry := toolkit.NewRegistry()
	machine := stepmachine.New(stepmachine.Config{
		Mailbox:  stubMailbox{},
		Registry: registry,
		ModelID:  "stub-model",
	})
	return &botfile.Bot{
		Name:     "test-bot",
		Tree:     convo.NewTree(),
		Labels:   make(map[string]*convo.Node),
		Registry: registry,
		Machine:  machine,
	}
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{Use: "test"}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

func TestLabelThenGotoMovesCursorBack(t *testing.T) {
	bot := newTestBot()
	nv := convo.NewNavigator(bot.Tree)
	cmd, _ := testCmd()

	root := bot.Tree.Cursor
	child := root.AppendReply(convo.RoleAssistant, "child", nil)
	bot.Tree.Cursor = child

	assert.False(t, handleChatCommand(cmd, bot, nv, "/label here"))
	bot.Tree.Cursor = root
	assert.False(t, handleChatCommand(cmd, bot, nv, "/goto here"))
	assert.Same(t, child, bot.Tree.Cursor)
}

func TestGotoUnknownLabelReportsErrorWithoutMovingCursor(t *testing.T) {
	bot := newTestBot()
	nv := convo.NewNavigator(bot.Tree)
	cmd, buf := testCmd()

	cursor := bot.Tree.Cursor
	assert.False(t, handleChatCommand(cmd, bot, nv, "/goto nope"))
	assert.Same(t, cursor, bot.Tree.Cursor)
	assert.Contains(t, buf.String(), "no such label")
}

func TestQuitCommandSignalsDone(t *testing.T) {
	bot := newTestBot()
	nv := convo.NewNavigator(bot.Tree)
	cmd, _ := testCmd()
	assert.True(t, handleChatCommand(cmd, bot, nv, "/quit"))
}

func TestSaveWritesBotFile(t *testing.T) {
	bot := newTestBot()
	nv := convo.NewNavigator(bot.Tree)
	cmd, buf := testCmd()

	path := filepath.Join(t.TempDir(), "saved.bot")
	assert.False(t, handleChatCommand(cmd, bot, nv, "/save "+path))
	assert.Contains(t, buf.String(), "saved to")

	loaded, err := botfile.PeekEngine(path)
	require.NoError(t, err)
	assert.Equal(t, "", loaded)
}

// TestWatchConfigReloadsBotMidSession covers end-to-end wiring of
// --watch-config: runChatLoop, when watchConfig is set, must actually
// apply an edited loom.yaml to the running bot rather than only doing so
// if some other caller remembers to invoke config.Watch separately.
func TestWatchConfigReloadsBotMidSession(t *testing.T) {
	origWatch, origPath := watchConfig, configPath
	t.Cleanup(func() { watchConfig, configPath = origWatch, origPath })

	configPath = filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: claude-sonnet-4\nsystem_message: original\n"), 0o644))
	watchConfig = true

	bot := newTestBot()
	cmd, _ := testCmd()
	pr, pw := io.Pipe()
	cmd.SetIn(pr)

	done := make(chan error, 1)
	go func() { done <- runChatLoop(context.Background(), cmd, bot) }()

	require.NoError(t, os.WriteFile(configPath, []byte("engine: claude-sonnet-4\nsystem_message: reloaded\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		if bot.SystemMessage == "reloaded" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("bot.SystemMessage was never updated by --watch-config")
		case <-time.After(20 * time.Millisecond):
		}
	}

	_, err := pw.Write([]byte("/quit\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}
