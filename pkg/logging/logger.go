// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging is the structured logger shared by the States service
// and the states command.
//
// A Logger is a log/slog logger whose records fan out to the console, an
// optional daily JSON file and an optional LogExporter. Verbosity lives in
// a slog.LevelVar shared by every child, so a config reload can change it
// in place:
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "states"})
//	defer logger.Close()
//
//	logger.SetLevel(logging.LevelDebug)
//
// Records written through Slog() reach the same destinations as those
// written through the Logger methods.
//
// Nothing is redacted. Do not log request bodies.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case name, or "UNKNOWN".
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads a level name in any case. Empty means Info and
// "warning" means Warn.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// MarshalText writes the lower-case name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// UnmarshalText accepts anything ParseLevel does.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// slogLevel maps Debug..Error onto slog's -4, 0, 4, 8.
func (l Level) slogLevel() slog.Level {
	if l < LevelDebug || l > LevelError {
		return slog.LevelInfo
	}
	return slog.Level(4 * (int(l) - 1))
}

func levelOf(sl slog.Level) Level {
	switch {
	case sl < slog.LevelInfo:
		return LevelDebug
	case sl < slog.LevelWarn:
		return LevelInfo
	case sl < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// Config configures New. The zero value writes text to stderr at Debug.
type Config struct {
	// Level is the starting minimum level.
	Level Level `yaml:"level"`

	// LogDir adds a JSON file "{Service}_{YYYY-MM-DD}.log" in this
	// directory. A leading "~" is the home directory.
	LogDir string `yaml:"log_dir"`

	// Service is attached to every record.
	Service string `yaml:"service"`

	// JSON selects JSON console output. The file is always JSON.
	JSON bool `yaml:"json"`

	// Quiet turns console output off.
	Quiet bool `yaml:"quiet"`

	// Output is the console writer. Nil means stderr.
	Output io.Writer `yaml:"-"`

	// Exporter receives every enabled record.
	Exporter LogExporter `yaml:"-"`
}

// LogExporter ships records to an external sink. Export runs on the
// caller's goroutine and should not block.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// sinks are the closable destinations shared by a root Logger and its
// children.
type sinks struct {
	mu       sync.Mutex
	file     *os.File
	exporter LogExporter
}

// Logger writes structured records to every configured destination.
// Children made by With share the level and the sinks.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
	sinks *sinks
}

// New builds a Logger.
//
// Description:
//
//	Console, file and exporter handlers are combined behind one slog
//	handler. A LogDir that cannot be created or opened is skipped so a
//	bad path never blocks startup.
//
// Inputs:
//
//	cfg - Destinations and starting level.
//
// Outputs:
//
//	*Logger - Close it to flush the exporter and the file.
func New(cfg Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Level.slogLevel())
	opts := &slog.HandlerOptions{Level: level}
	s := &sinks{exporter: cfg.Exporter}

	var out fanout
	if !cfg.Quiet {
		w := cfg.Output
		if w == nil {
			w = os.Stderr
		}
		if cfg.JSON {
			out = append(out, slog.NewJSONHandler(w, opts))
		} else {
			out = append(out, slog.NewTextHandler(w, opts))
		}
	}
	if cfg.LogDir != "" {
		if f, err := openDailyFile(cfg.LogDir, cfg.Service, time.Now()); err == nil {
			s.file = f
			out = append(out, slog.NewJSONHandler(f, opts))
		}
	}
	if cfg.Exporter != nil {
		out = append(out, &exportHandler{exporter: cfg.Exporter, level: level, service: cfg.Service})
	}

	var h slog.Handler = out
	if len(out) == 1 {
		h = out[0]
	}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return &Logger{slog: slog.New(h), level: level, sinks: s}
}

// Default logs Info and above to stderr as the "states" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "states"})
}

func openDailyFile(dir, service string, day time.Time) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "states"
	}
	name := service + "_" + day.Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Log(context.Background(), slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Log(context.Background(), slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Log(context.Background(), slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Log(context.Background(), slog.LevelError, msg, args...) }

// With returns a child that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, sinks: l.sinks}
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetLevel changes the minimum level of this logger and all its relatives.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// Level reports the current minimum level.
func (l *Logger) Level() Level {
	return levelOf(l.level.Level())
}

// Close flushes and closes the exporter and the file. Later calls do
// nothing.
func (l *Logger) Close() error {
	l.sinks.mu.Lock()
	defer l.sinks.mu.Unlock()

	var errs []error
	if exp := l.sinks.exporter; exp != nil {
		l.sinks.exporter = nil
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush log exporter: %w", err))
		}
		if err := exp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log exporter: %w", err))
		}
	}
	if f := l.sinks.file; f != nil {
		l.sinks.file = nil
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// fanout hands each record to every handler that wants it.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(derive func(slog.Handler) slog.Handler) fanout {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = derive(h)
	}
	return next
}

// exportHandler turns records into LogEntry values. Grouped keys are
// flattened with dots.
type exportHandler struct {
	exporter LogExporter
	level    slog.Leveler
	service  string
	prefix   string
	attrs    map[string]any
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	return h.exporter.Export(ctx, LogEntry{
		Timestamp: r.Time,
		Level:     levelOf(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     fields,
	})
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		next.attrs[k] = v
	}
	for _, a := range attrs {
		next.attrs[h.prefix+a.Key] = a.Value.Resolve().Any()
	}
	return &next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func expandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// BufferedExporter keeps entries in memory for tests:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Quiet: true, Exporter: exporter})
//	logger.Info("State created", "state_id", id)
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ LogExporter = (*BufferedExporter)(nil)

// NewBufferedExporter returns an empty exporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	e.entries = append(e.entries, entry)
	e.mu.Unlock()
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                { return nil }

// Entries returns a snapshot of what was exported.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.entries...)
}

// Messages lists messages at floor or above, in order.
func (e *BufferedExporter) Messages(floor Level) []string {
	var out []string
	for _, entry := range e.Entries() {
		if entry.Level >= floor {
			out = append(out, entry.Message)
		}
	}
	return out
}
