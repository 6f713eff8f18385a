package cli

import (
	"io"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dshills/codegrep/internal/config"
)

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger builds the logger of one invocation and makes it the
// default. Logs go to the rotating file; debug mirrors them to stderr at
// Debug level and verbose adds source locations. The returned closer
// releases the log file.
func configureLogger(cfg config.LogConfig, debug, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer) {
	logLevel := parseSlogLevel(cfg.Level, slog.LevelInfo)
	if debug || verbose {
		logLevel = slog.LevelDebug
	}

	logWriter := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var w io.Writer = logWriter
	if debug || verbose {
		w = io.MultiWriter(logWriter, stderr)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: verbose,
		Level:     logLevel,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logWriter
}
