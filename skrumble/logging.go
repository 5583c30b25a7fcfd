package skrumble

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel is the SDK's coarse verbosity scale. Higher values log more.
type LogLevel int

const (
	LogNone  LogLevel = 0
	LogError LogLevel = 1
	LogWarn  LogLevel = 2
	LogInfo  LogLevel = 3
	LogAll   LogLevel = 9
)

func (l LogLevel) String() string {
	switch {
	case l <= LogNone:
		return "none"
	case l == LogError:
		return "error"
	case l == LogWarn:
		return "warn"
	case l < LogAll:
		return "info"
	default:
		return "all"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch {
	case l == LogError:
		return slog.LevelError
	case l == LogWarn:
		return slog.LevelWarn
	case l < LogAll:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// ParseLogLevel accepts the level names printed by LogLevel.String.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LogNone, nil
	case "error":
		return LogError, nil
	case "warn", "warning":
		return LogWarn, nil
	case "info", "":
		return LogInfo, nil
	case "all", "debug":
		return LogAll, nil
	default:
		return LogInfo, fmt.Errorf("skrumble: unknown log level %q", s)
	}
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level LogLevel) *slog.Logger {
	if level <= LogNone {
		w = io.Discard
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
}
