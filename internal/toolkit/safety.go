package toolkit

import (
	"errors"
	"regexp"
	"strings"
)

// Pattern definitions for validating a path or bare name before it is
// ever placed on SourceExecFunc's command line, even though
// exec.CommandContext never invokes a shell and so is not itself
// vulnerable to injection via these characters.
var (
	shellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareNamePath   = regexp.MustCompile(`^[A-Za-z0-9._+\-/]+$`)
)

// ErrUnsafePathValue is returned by ValidatePathValue when value fails
// any of its checks.
var ErrUnsafePathValue = errors.New("toolkit: unsafe path or file name")

// ValidatePathValue rejects a path or bare file name that contains null
// bytes, control characters, shell metacharacters, or quote characters,
// or that starts with a dash (option injection against a command that
// parses its arguments leniently). Grounded on the teacher's
// internal/exec/safety.go IsSafeExecutableValue/SanitizeExecutableValue,
// reduced to the single check SourceExecFunc and the tool-add CLI
// command need: is this string safe to use as a file path argument.
func ValidatePathValue(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ErrUnsafePathValue
	}
	if strings.Contains(trimmed, "\x00") {
		return ErrUnsafePathValue
	}
	if controlChars.MatchString(trimmed) {
		return ErrUnsafePathValue
	}
	if shellMetachars.MatchString(trimmed) {
		return ErrUnsafePathValue
	}
	if quoteChars.MatchString(trimmed) {
		return ErrUnsafePathValue
	}
	if strings.HasPrefix(trimmed, "-") {
		return ErrUnsafePathValue
	}
	if !bareNamePath.MatchString(trimmed) {
		return ErrUnsafePathValue
	}
	return nil
}
