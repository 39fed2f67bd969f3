// Package observability builds the structured logger cmd/loom installs
// as the process-wide slog default (SPEC_FULL.md's ambient logging
// section). Grounded on the teacher's own internal/observability/
// logging.go, trimmed from its multi-channel request/session/user
// correlation down to the one thing a single-bot CLI process actually
// needs: a level/format-configurable handler that redacts API keys and
// tokens before they ever reach a log line, since a bot's Mailbox
// adapters carry one in memory for the life of the process.
package observability

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures NewHandler.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error"; anything else is
	// treated as "info".
	Level string

	// Format is "json" or "text"; anything else is treated as "json".
	Format string

	// Output defaults to os.Stderr, matching the teacher's convention
	// of keeping stdout free for command output.
	Output *os.File
}

// redactPatterns matches the secret shapes worth stripping from a log
// line even though cmd/loom never logs a raw API key itself: a tool's
// stdout/stderr or a provider error message might otherwise leak one.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+[a-zA-Z0-9_\-.]{16,}`),
}

func redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler builds the slog.Handler cmd/loom installs via
// slog.SetDefault. ReplaceAttr redacts any string-valued attribute
// (including the log message itself, which arrives as slog.MessageKey)
// rather than only specifically-named fields, since a redaction scheme
// keyed on field names misses a secret logged under an unexpected key.
func NewHandler(cfg LogConfig) slog.Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(a.Value.String()))
			}
			return a
		},
	}

	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// ContextKey is used to attach correlation fields (the run's bot name)
// to a context for the lifetime of one chat/run/resume invocation.
type ContextKey string

// BotNameKey is the context key cmd/loom uses to carry the active
// bot's name into every log record emitted during that command.
const BotNameKey ContextKey = "bot_name"

// WithBotName returns a logger that annotates every record with the
// bot name carried on ctx, if any.
func WithBotName(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if name, ok := ctx.Value(BotNameKey).(string); ok && name != "" {
		return logger.With("bot_name", name)
	}
	return logger
}
