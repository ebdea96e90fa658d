package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// NewLogger returns a configured slog.Logger based on configuration. Records
// go to stderr, since stdout belongs to the console, and are fanned out to
// LOG_FILE and the systemd journal when those are enabled. The returned
// function closes the log file.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *Config, w io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	format := "pretty"
	if cfg != nil {
		format = cfg.LogFormat
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil && cfg.LogLevel != "" {
			return nil, nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
		}
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var primary slog.Handler
	if format == "json" {
		primary = slog.NewJSONHandler(w, opts)
	} else {
		primary = slog.NewTextHandler(w, opts)
	}
	if cfg == nil {
		return slog.New(primary), noClose, nil
	}

	handlers := []slog.Handler{primary}
	closeFn := noClose
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closeFn = f.Close
	}
	if cfg.LogJournal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return journalKey(key)
			},
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = journalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
			record.Add("error", err)
			_ = primary.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journal)
		}
	}
	if len(handlers) == 1 {
		return slog.New(primary), closeFn, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

func noClose() error { return nil }

// journalKey maps attribute keys to valid journal field names.
func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
