package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

// newTestLogger returns a logger writing into a pipe and a read func.
// read closes the write end and waits for the reader goroutine, so it
// returns every record logged before the call.
func newTestLogger(t *testing.T, cfg LogConfig) (*slog.Logger, func() string) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	cfg.Output = w
	handler := NewHandler(cfg)
	logger := slog.New(handler)

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()
	var once sync.Once
	read := func() string {
		once.Do(func() {
			w.Close()
			<-done
			r.Close()
		})
		return buf.String()
	}
	t.Cleanup(func() { read() })
	return logger, read
}

func TestNewHandlerDefaultsToJSONAndInfo(t *testing.T) {
	logger, read := newTestLogger(t, LogConfig{})
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	out := read()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug line to be filtered at default info level, got %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected JSON-formatted record, got %q", out)
	}
}

func TestNewHandlerTextFormat(t *testing.T) {
	logger, read := newTestLogger(t, LogConfig{Format: "text"})
	logger.Info("hello")
	if !strings.Contains(read(), "msg=hello") {
		t.Fatalf("expected text-formatted record, got %q", read())
	}
}

func TestNewHandlerRedactsSecretsInAttributes(t *testing.T) {
	logger, read := newTestLogger(t, LogConfig{})
	logger.Error("tool failed", "output", "leaked sk-ant-"+strings.Repeat("x", 24))

	var rec map[string]any
	if err := json.Unmarshal([]byte(read()), &rec); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if got := rec["output"].(string); strings.Contains(got, "sk-ant-") {
		t.Fatalf("expected secret to be redacted, got %q", got)
	}
}

func TestWithBotNameAddsFieldWhenPresentOnContext(t *testing.T) {
	logger, read := newTestLogger(t, LogConfig{})
	ctx := context.WithValue(context.Background(), BotNameKey, "assistant")
	WithBotName(ctx, logger).Info("ready")

	if !strings.Contains(read(), `"bot_name":"assistant"`) {
		t.Fatalf("expected bot_name field, got %q", read())
	}
}

func TestWithBotNameIsNoopWithoutContextValue(t *testing.T) {
	logger, read := newTestLogger(t, LogConfig{})
	WithBotName(context.Background(), logger).Info("ready")
	if strings.Contains(read(), "bot_name") {
		t.Fatalf("expected no bot_name field, got %q", read())
	}
}
