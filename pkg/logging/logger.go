// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides the structured event log of the DynExp runtime.
//
// The event log fans every record out to several destinations:
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                            Logger                                │
//	│  ┌──────────┐ ┌───────────┐ ┌────────────┐ ┌─────────┐ ┌───────┐ │
//	│  │  stderr  │ │ JSON file │ │ HTML event │ │ history │ │export │ │
//	│  │(default) │ │(optional) │ │ log (opt.) │ │  ring   │ │(opt.) │ │
//	│  └──────────┘ └───────────┘ └────────────┘ └─────────┘ └───────┘ │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Basic Usage
//
// The process builds one Logger at startup and installs it as the event log:
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "dynexp"})
//	logging.SetEventLog(logger)
//	defer logger.Close()
//
// Components that are not handed a logger explicitly use EventLog(), which
// lazily creates a default one on first use.
//
// # HTML Event Log
//
// OpenLogFile binds the logger to an HTML file with one table row per
// record. CloseLogFile writes the footer and closes it:
//
//	if err := logger.OpenLogFile("events.html"); err != nil { ... }
//	defer logger.CloseLogFile()
//
// # Failure Semantics
//
// Logging never panics and never reports errors to the caller. A failing
// destination drops the record.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/dynexp/pkg/util"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity: Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages such as state changes.
	LevelInfo

	// LevelWarn is for recoverable problems, e.g. a lock timeout.
	LevelWarn

	// LevelError is for failures that put an Object into its error state.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// ParseLevel parses "debug", "info", "warn"/"warning" or "error",
// case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// DefaultHistorySize is the number of records kept for History().
const DefaultHistorySize = 256

// Config configures the Logger behavior.
//
// A zero-value Config creates a logger that writes Info+ messages to
// stderr in text format and keeps DefaultHistorySize records.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo
	Level Level

	// LogDir enables JSON file logging to "{Service}_{YYYY-MM-DD}.log" in
	// this directory. Supports ~ expansion. Default: "" (disabled)
	LogDir string

	// Service is added to every record as the "service" attribute.
	Service string

	// JSON enables JSON output on stderr.
	JSON bool

	// JSONWhenPiped switches stderr to JSON when it is not a terminal.
	JSONWhenPiped bool

	// Quiet disables stderr output.
	Quiet bool

	// HistorySize is the number of records kept in memory for History().
	// Default: DefaultHistorySize. Negative disables the history.
	HistorySize int

	// HTMLFile opens the HTML event log at construction. See OpenLogFile.
	HTMLFile string

	// Exporter receives every record asynchronously. Default: nil
	Exporter LogExporter
}

// =============================================================================
// Export Interface
// =============================================================================

// LogExporter forwards log entries to an external system.
//
// Export is called asynchronously for each entry and must not block for
// long. Flush is called on Close before Close of the exporter itself.
type LogExporter interface {
	// Export sends a log entry. Errors are dropped.
	Export(ctx context.Context, entry LogEntry) error

	// Flush sends all buffered entries.
	Flush(ctx context.Context) error

	// Close releases resources held by the exporter.
	Close() error
}

// LogEntry represents one structured log record.
type LogEntry struct {
	// Timestamp when the log was generated (local time)
	Timestamp time.Time

	// Level of the log (Debug, Info, Warn, Error)
	Level Level

	// Message is the primary log message
	Message string

	// Service identifies the component (from Config.Service)
	Service string

	// Attrs contains all key-value attributes
	Attrs map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// # Thread Safety
//
// Logger is safe for concurrent use from multiple goroutines.
//
// # Resource Management
//
// Call Close() when done to close files and flush the exporter. Loggers
// derived with With() share the resources of their parent.
type Logger struct {
	slog *slog.Logger

	config   Config
	exporter LogExporter

	// shared between a logger and its With() children
	res *resources
}

// resources are owned by the root Logger.
type resources struct {
	mu      sync.Mutex
	file    *os.File
	html    *htmlSink
	history *historySink
}

// New creates a new Logger with the given configuration.
//
// Destinations that cannot be opened (log directory, HTML file) are
// skipped; the logger always works.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}
	res := &resources{html: &htmlSink{}}

	var handlers []slog.Handler

	if !config.Quiet {
		if config.JSON || (config.JSONWhenPiped && !isTerminal(os.Stderr)) {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "dynexp"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				res.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	handlers = append(handlers, newEntryHandler(res.html, opts.Level))

	historySize := config.HistorySize
	if historySize == 0 {
		historySize = DefaultHistorySize
	}
	if historySize > 0 {
		res.history = &historySink{ring: util.NewRingBuffer[LogEntry](historySize)}
		handlers = append(handlers, newEntryHandler(res.history, opts.Level))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	handler = &safeHandler{next: handler}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger := &Logger{
		slog:     slog.New(handler),
		config:   config,
		exporter: config.Exporter,
		res:      res,
	}

	if config.HTMLFile != "" {
		_ = logger.OpenLogFile(config.HTMLFile)
	}
	return logger
}

// Default returns a logger writing Info+ to stderr with service "dynexp".
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "dynexp",
	})
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a new Logger with additional attributes. The parent is not
// modified; both share files, history and exporter.
//
// Example:
//
//	objLogger := logger.With("object", "lockin", "category", "instrument")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		exporter: l.exporter,
		res:      l.res,
	}
}

// Slog returns the underlying slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// History returns the most recent records, oldest first.
func (l *Logger) History() []LogEntry {
	if l.res.history == nil {
		return nil
	}
	return l.res.history.ring.Snapshot()
}

// Close flushes the exporter and closes the JSON and HTML log files.
//
// Returns the first error encountered during cleanup.
func (l *Logger) Close() error {
	l.res.mu.Lock()
	defer l.res.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.res.file != nil {
		if err := l.res.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.res.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.res.file = nil
	}

	if err := l.res.html.close(); err != nil {
		errs = append(errs, fmt.Errorf("close html log: %w", err))
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log writes to all destinations. It never panics.
func (l *Logger) log(level Level, msg string, args ...any) {
	defer util.RecoverPanic(nil)()

	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		exporter := l.exporter
		util.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = exporter.Export(ctx, entry)
		}, nil)
	}
}

// =============================================================================
// Handlers (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to every enabled handler. A failing handler does
// not keep the record from the others.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// safeHandler drops handler errors and recovers handler panics so that
// logging through Slog() is as safe as through the Logger methods.
type safeHandler struct {
	next slog.Handler
}

func (h *safeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *safeHandler) Handle(ctx context.Context, r slog.Record) error {
	defer util.RecoverPanic(nil)()
	_ = h.next.Handle(ctx, r)
	return nil
}

func (h *safeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &safeHandler{next: h.next.WithAttrs(attrs)}
}

func (h *safeHandler) WithGroup(name string) slog.Handler {
	return &safeHandler{next: h.next.WithGroup(name)}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter is a no-op exporter that discards all entries.
type NopExporter struct{}

// Export discards the entry (no-op).
func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }

// Flush is a no-op.
func (e *NopExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *NopExporter) Close() error { return nil }

var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter collects log entries in memory.
//
// Useful for testing to verify log output:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exporter, Quiet: true})
//	logger.Info("object ready", "object", "lockin")
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates a new BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 100),
	}
}

// Export adds the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op (entries are already in memory).
func (e *BufferedExporter) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (e *BufferedExporter) Close() error {
	return nil
}

// Entries returns a copy of all collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

// WriterExporter writes log entries as single lines to an io.Writer.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a new WriterExporter.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// Export writes the entry to the writer.
func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

// Flush is a no-op (writes are immediate).
func (e *WriterExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op (doesn't own the writer).
func (e *WriterExporter) Close() error { return nil }
