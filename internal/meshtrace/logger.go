// Package meshtrace wraps zap with correlation/request-scoped records and
// trace-span bookkeeping. It threads IDs through zap rather than
// replacing it, in the spirit of a cmd/registry/main.go-style
// requestLogger that derives a scoped *zap.Logger per request.
package meshtrace

import (
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is one of six severities from trace up to fatal. zap has no native
// "trace" level below Debug, so Trace is modeled as a Debug-level zap entry
// carrying an explicit levelName field.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogFormat selects the sink encoder.
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatText    LogFormat = "text"
	FormatCompact LogFormat = "compact"
)

// Config configures a Logger.
type Config struct {
	Level          Level
	EnableConsole  bool
	EnableFile     bool
	FilePath       string
	EnableTracing  bool
	EnableMetrics  bool
	LogFormat      LogFormat
}

// DefaultConfig returns sensible logger defaults.
func DefaultConfig() Config {
	return Config{
		Level:         LevelInfo,
		EnableConsole: true,
		EnableTracing: true,
		EnableMetrics: true,
		LogFormat:     FormatJSON,
	}
}

// Record is the structured shape every log entry is emitted as.
type Record struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         int            `json:"level"`
	LevelName     string         `json:"levelName"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	Component     string         `json:"component,omitempty"`
	Operation     string         `json:"operation,omitempty"`
	Duration      time.Duration  `json:"duration,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Logger is a correlation-scoped wrapper over *zap.Logger.
type Logger struct {
	zl            *zap.Logger
	cfg           Config
	component     string
	correlationID string
	requestID     string
	tracer        *Tracer
}

// New builds a Logger from cfg. The returned Logger owns a *zap.Logger
// configured with a buffered write syncer so sink delivery never blocks
// the caller (formatting/sink delivery must be
// non-blocking at the contract level).
func New(cfg Config, component string) (*Logger, error) {
	encoder := buildEncoder(cfg.LogFormat)

	var core zapcore.Core
	if cfg.EnableConsole {
		ws := &zapcore.BufferedWriteSyncer{
			WS:            zapcore.Lock(zapcore.AddSync(os.Stdout)),
			FlushInterval: 250 * time.Millisecond,
		}
		core = zapcore.NewCore(encoder, ws, cfg.Level.zapLevel())
	} else {
		core = zapcore.NewNopCore()
	}

	zl := zap.New(core)

	l := &Logger{
		zl:     zl,
		cfg:    cfg,
		component: component,
	}
	if cfg.EnableTracing {
		l.tracer = newTracer()
	}
	return l, nil
}

func buildEncoder(format LogFormat) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case FormatText:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	case FormatCompact:
		encCfg.LineEnding = "\n"
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	default:
		return zapcore.NewJSONEncoder(encCfg)
	}
}

// WithCorrelation returns a child Logger scoped to correlationID. A
// correlation ID may span many request IDs per the Glossary.
func (l *Logger) WithCorrelation(correlationID string) *Logger {
	clone := *l
	clone.correlationID = correlationID
	return &clone
}

// WithRequest returns a child Logger scoped to a fresh request ID.
func (l *Logger) WithRequest() *Logger {
	clone := *l
	clone.requestID = NewID()
	return &clone
}

// NewID generates a correlation/request/trace-scoped UUID.
func NewID() string { return uuid.New().String() }

// CorrelationID returns the logger's current correlation scope, if any.
func (l *Logger) CorrelationID() string { return l.correlationID }

// RequestID returns the logger's current request scope, if any.
func (l *Logger) RequestID() string { return l.requestID }

// Tracer returns the logger's trace-span tracker, or nil when tracing is
// disabled.
func (l *Logger) Tracer() *Tracer { return l.tracer }

func (l *Logger) log(level Level, operation, msg string, metadata map[string]any) {
	fields := []zap.Field{
		zap.String("id", NewID()),
		zap.String("levelName", level.String()),
		zap.String("component", l.component),
	}
	if operation != "" {
		fields = append(fields, zap.String("operation", operation))
	}
	if l.correlationID != "" {
		fields = append(fields, zap.String("correlationId", l.correlationID))
	}
	if l.requestID != "" {
		fields = append(fields, zap.String("requestId", l.requestID))
	}
	for k, v := range metadata {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case LevelTrace, LevelDebug:
		l.zl.Debug(msg, fields...)
	case LevelInfo:
		l.zl.Info(msg, fields...)
	case LevelWarn:
		l.zl.Warn(msg, fields...)
	case LevelError:
		l.zl.Error(msg, fields...)
	case LevelFatal:
		l.zl.Fatal(msg, fields...)
	}
}

// Trace logs at trace level.
func (l *Logger) Trace(op, msg string, metadata map[string]any) { l.log(LevelTrace, op, msg, metadata) }

// Debug logs at debug level.
func (l *Logger) Debug(op, msg string, metadata map[string]any) { l.log(LevelDebug, op, msg, metadata) }

// Info logs at info level.
func (l *Logger) Info(op, msg string, metadata map[string]any) { l.log(LevelInfo, op, msg, metadata) }

// Warn logs at warn level.
func (l *Logger) Warn(op, msg string, metadata map[string]any) { l.log(LevelWarn, op, msg, metadata) }

// Error logs at error level.
func (l *Logger) Error(op, msg string, metadata map[string]any) { l.log(LevelError, op, msg, metadata) }

// Fatal logs at fatal level then terminates the process (zap.Fatal's
// contract).
func (l *Logger) Fatal(op, msg string, metadata map[string]any) { l.log(LevelFatal, op, msg, metadata) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zl.Sync() }
