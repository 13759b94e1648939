// Package log configures structured logging for the Databricks nodes.
package log

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	})))
}

// ParseLevel maps a level name to a slog level, falling back to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// OrDefault returns logger, or the process default logger when logger is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}

	return logger
}

var (
	reBearer = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reToken  = regexp.MustCompile(`(?i)(token=|"token"\s*:\s*")([^\s&";]+)`)
	rePAT    = regexp.MustCompile(`dapi[a-f0-9]{16,}(-\d+)?`)
)

// Mask replaces access tokens in s with "***" so the result is safe to log or to
// store in an error record.
func Mask(s string) string {
	out := reBearer.ReplaceAllString(s, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = rePAT.ReplaceAllString(out, "dapi***")

	return out
}
