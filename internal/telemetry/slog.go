package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// logLevel backs the default logger's level so it can change at runtime.
var logLevel = new(slog.LevelVar)

// ParseLevel maps a configuration string onto a slog level; unknown values
// become info.
func ParseLevel(level string) slog.Level {
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

// SetupLogger configures the global slog default logger.
//
// format: "json" → JSONHandler, anything else → TextHandler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
//
// Components call slog.Info/Warn/Error directly and pick up this logger.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)
	logLevel.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLogLevel changes the level of the logger installed by SetupLogger
// without rebuilding its handler.
func SetLogLevel(level string) {
	lvl := ParseLevel(level)
	if logLevel.Level() == lvl {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

// LogLevel returns the current level of the default logger.
func LogLevel() slog.Level {
	return logLevel.Level()
}
