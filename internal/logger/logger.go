package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config selects where records go. Console receives text records; when File
// is set, JSON records are appended there as well.
type Config struct {
	Console io.Writer
	File    string
	Debug   bool
}

var (
	mu      sync.RWMutex
	global  = slog.New(slog.NewTextHandler(os.Stderr, nil))
	logFile *os.File
)

// Setup installs the process logger and returns a cleanup that closes the
// file sink.
func Setup(cfg Config) (func() error, error) {
	level := slog.LevelInfo
	addSource := false
	if cfg.Debug {
		level = slog.LevelDebug
		addSource = true
	}
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}

	var f *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		var err error
		f, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level:     level,
			AddSource: addSource,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
					a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return a
			},
		}))
	}

	var l *slog.Logger
	if len(handlers) == 1 {
		l = slog.New(handlers[0])
	} else {
		l = slog.New(tee(handlers))
	}

	mu.Lock()
	global = l
	logFile = f
	mu.Unlock()

	l.Debug("logger.initialized", "file", cfg.File, "debug", cfg.Debug)

	cleanup := func() error {
		mu.Lock()
		defer mu.Unlock()

		var cerr error
		if logFile != nil {
			cerr = logFile.Close()
		}
		logFile = nil
		global = slog.New(slog.NewTextHandler(os.Stderr, nil))
		return cerr
	}
	return cleanup, nil
}

// L returns the process logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// tee fans records out to several handlers.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
