// Package logging builds the zerolog loggers used by both binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format applies to Writer only; the rotated file is always JSON.
	Format string
	// Writer receives interactive output. Nil means stderr, unless File is
	// set, in which case only the file is written.
	Writer io.Writer
	// File enables size-based rotation through lumberjack.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Component is attached to every event when set.
	Component string
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	if level == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}
	return level, nil
}

// New returns a timestamped logger and a closer for the rotated file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	switch format {
	case "":
		format = FormatConsole
	case FormatConsole, FormatJSON:
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log format %q", opts.Format)
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	out := opts.Writer
	if out == nil && strings.TrimSpace(opts.File) == "" {
		out = os.Stderr
	}
	if out != nil {
		if format == FormatConsole {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stderr}
		}
		writers = append(writers, out)
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log dir: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    positiveOr(opts.MaxSizeMB, 10),
			MaxBackups: positiveOr(opts.MaxBackups, 3),
			MaxAge:     positiveOr(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		writers = append(writers, rotating)
		closer = rotating
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	return ctx.Logger(), closer, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
