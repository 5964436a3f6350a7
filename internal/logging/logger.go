package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// ParseLevel maps a config string to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Time      time.Time      `json:"time"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"msg"`
	Service   string         `json:"service,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Role      string         `json:"role,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	EventKind string         `json:"event_kind,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`

	logger *Logger
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string

	mu    sync.Mutex
	out   io.Writer
	level LogLevel
}

// New creates a new structured logger for the given service
func New(service string) *Logger {
	return &Logger{
		service: service,
		out:     os.Stdout,
		level:   LevelInfo,
	}
}

// SetOutput redirects the logger; nil restores stdout
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	l.out = w
}

// SetLevel drops entries below level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return levelRank[level] >= levelRank[l.level]
}

func (l *Logger) entry() *LogEntry {
	l.mu.Lock()
	service := l.service
	l.mu.Unlock()
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: service,
		Fields:  make(map[string]any),
		logger:  l,
	}
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.entry()

	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry.TraceID = traceID
	}

	return entry
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return l.entry()
}

// Component creates an entry tagged with the emitting component
func (l *Logger) Component(name string) *LogEntry {
	return l.entry().WithComponent(name)
}

// Fluent interface methods for LogEntry

// WithComponent sets the component (queue, publisher, controller, sink...)
func (e *LogEntry) WithComponent(component string) *LogEntry {
	e.Component = component
	return e
}

// WithRole sets the role/service tag the telemetry is emitted under
func (e *LogEntry) WithRole(role string) *LogEntry {
	e.Role = role
	return e
}

// WithBackend sets the telemetry backend name
func (e *LogEntry) WithBackend(backend string) *LogEntry {
	e.Backend = backend
	return e
}

// WithEventKind sets the telemetry event kind
func (e *LogEntry) WithEventKind(kind string) *LogEntry {
	e.EventKind = kind
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields["error"] = err.Error()
	}
	return e
}

// Log methods

// Debug logs at debug level
func (e *LogEntry) Debug(message string) {
	e.log(LevelDebug, message)
}

// Info logs at info level
func (e *LogEntry) Info(message string) {
	e.log(LevelInfo, message)
}

// Warn logs at warn level
func (e *LogEntry) Warn(message string) {
	e.log(LevelWarn, message)
}

// Warnf logs at warn level with formatting
func (e *LogEntry) Warnf(format string, args ...any) {
	e.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs at error level
func (e *LogEntry) Error(message string) {
	e.log(LevelError, message)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.log(LevelFatal, message)
	os.Exit(1)
}

func (e *LogEntry) log(level LogLevel, message string) {
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	if !l.enabled(level) {
		return
	}
	e.Level = level
	e.Message = message
	e.output(l)
}

// output writes the log entry as one JSON line
func (e *LogEntry) output(l *Logger) {
	// Clean up empty fields
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(l.out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}

	fmt.Fprintln(l.out, string(data))
}

// Global convenience functions

var defaultLogger = New("harbor-pulse")

// Default returns the process-wide logger
func Default() *Logger {
	return defaultLogger
}

// SetDefaultService sets the service name for the default logger
func SetDefaultService(service string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.service = service
}
