// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// FilePath enables a rotated JSON log file next to console output.
	FilePath string
	// Console defaults to stderr.
	Console io.Writer
}

func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	if opts.FilePath != "" {
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if err != nil && opts.Level != "" {
		logger.Warn().Str("level", opts.Level).Msg("unknown log level, using info")
	}
	return logger
}
