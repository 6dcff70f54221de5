// Package logging provides structured logging utilities for the game packages.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
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

// slogLevel maps LogLevel onto the slog level scale.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a configuration string onto a LogLevel. Unknown or
// empty strings fall back to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Reserved field names are owned by the turn pipeline. Caller-supplied fields
// colliding with them are renamed with a "field_" prefix so a subsystem can
// never clobber the correlation attributes.
const (
	FieldTraceID     = "trace_id"
	FieldCharacterID = "character_id"
	FieldTurnID      = "turn_id"
	FieldPhase       = "phase"
)

var reservedFields = map[string]struct{}{
	FieldTraceID:     {},
	FieldCharacterID: {},
	FieldTurnID:      {},
	FieldPhase:       {},
}

// Logger provides structured logging with context support.
type Logger struct {
	mu      sync.RWMutex
	handler slog.Handler
	level   LogLevel
	fields  map[string]interface{}
}

// Default logger instance.
var defaultLogger *Logger

func init() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	defaultLogger = NewLogger(handler)
}

// NewLogger creates a new logger with the given handler.
func NewLogger(h slog.Handler) *Logger {
	if h == nil {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		handler: h,
		level:   LevelInfo,
		fields:  make(map[string]interface{}),
	}
}

// WithLevel returns a new logger with the specified minimum level.
func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		handler: l.handler,
		level:   level,
		fields:  make(map[string]interface{}, len(l.fields)),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// WithField returns a new logger with an additional field. Reserved field
// names are renamed with a "field_" prefix; use the dedicated setters for
// correlation attributes.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.withField(safeKey(key), value)
}

// WithFields returns a new logger with additional fields. Reserved names are
// renamed as in WithField.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		handler: l.handler,
		level:   l.level,
		fields:  make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[safeKey(k)] = v
	}
	return newLogger
}

// WithTraceID returns a new logger carrying the turn's trace identifier.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.withField(FieldTraceID, traceID)
}

// WithCharacterID returns a new logger carrying the character identifier.
func (l *Logger) WithCharacterID(characterID string) *Logger {
	return l.withField(FieldCharacterID, characterID)
}

// WithTurnID returns a new logger carrying the turn identifier.
func (l *Logger) WithTurnID(turnID string) *Logger {
	return l.withField(FieldTurnID, turnID)
}

// WithPhase returns a new logger carrying the current pipeline phase.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.withField(FieldPhase, phase)
}

func (l *Logger) withField(key string, value interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		handler: l.handler,
		level:   l.level,
		fields:  make(map[string]interface{}, len(l.fields)+1),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value
	return newLogger
}

func safeKey(key string) string {
	if _, reserved := reservedFields[key]; reserved {
		return "field_" + key
	}
	return key
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// log handles the actual logging logic.
func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	attrs := make([]slog.Attr, 0, len(l.fields)+len(args)/2)
	for k, v := range l.fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	// Handle variadic args as key-value pairs; reserved names are renamed
	// here too since variadic attrs bypass WithField.
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			key, _ := args[i].(string)
			attrs = append(attrs, slog.Any(safeKey(key), args[i+1]))
		}
	}

	record := slog.NewRecord(time.Now(), level.slogLevel(), msg, 0)
	record.AddAttrs(attrs...)

	_ = l.handler.Handle(context.Background(), record)
}

// FromContext extracts the logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// ToContext adds the logger to context.
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

// Package-level convenience functions using default logger.

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message using the default logger.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level LogLevel) {
	defaultLogger = defaultLogger.WithLevel(level)
}

// Setup rebuilds the default logger to match the runtime settings and
// points the process-wide slog default at the same handler, so packages
// logging through bare slog share the format and level. Called once at
// startup, before any turns run.
func Setup(level LogLevel, jsonFormat bool) {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	defaultLogger = NewLogger(handler).WithLevel(level)
	slog.SetDefault(slog.New(handler))
}
