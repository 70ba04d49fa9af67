// Package logger provides zerolog-backed logging implementations for manageusers
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/types"
)

// ZeroLogger adapts a zerolog.Logger to interfaces.Logger
type ZeroLogger struct {
	zl zerolog.Logger
	// level is shared with every WithFields child and may change while they log
	level *atomic.Int32
}

// Options controls how a logger is built
type Options struct {
	Level     string
	Format    types.LogFormat
	File      string
	NoColor   bool
	Component string
}

// New creates a logger writing to w with the given options.
// Unknown levels fall back to info.
func New(w io.Writer, opts Options) *ZeroLogger {
	if opts.Format != types.LogFormatJSON {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}

	return &ZeroLogger{
		zl:    ctx.Logger(),
		level: newLevel(ParseLevel(opts.Level)),
	}
}

func newLevel(lvl zerolog.Level) *atomic.Int32 {
	level := new(atomic.Int32)
	level.Store(int32(lvl))
	return level
}

// NewFromOptions opens opts.File when set and builds the logger on it,
// otherwise it logs to stderr. The returned closer is never nil.
func NewFromOptions(opts Options) (*ZeroLogger, io.Closer, error) {
	if opts.File == "" {
		return New(os.Stderr, opts), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	opts.NoColor = true
	return New(f, opts), f, nil
}

// ParseLevel maps a level name onto zerolog levels
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel changes the minimum level; loggers derived with WithFields follow it.
func (l *ZeroLogger) SetLevel(level string) {
	l.level.Store(int32(ParseLevel(level)))
}

// Level returns the current minimum level name
func (l *ZeroLogger) Level() string {
	return zerolog.Level(l.level.Load()).String()
}

// Debug logs debug level messages
func (l *ZeroLogger) Debug(msg string, fields ...map[string]interface{}) {
	l.emit(zerolog.DebugLevel, msg, nil, fields)
}

// Info logs info level messages
func (l *ZeroLogger) Info(msg string, fields ...map[string]interface{}) {
	l.emit(zerolog.InfoLevel, msg, nil, fields)
}

// Warn logs warning level messages
func (l *ZeroLogger) Warn(msg string, fields ...map[string]interface{}) {
	l.emit(zerolog.WarnLevel, msg, nil, fields)
}

// Error logs error level messages
func (l *ZeroLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	l.emit(zerolog.ErrorLevel, msg, err, fields)
}

// WithFields returns a logger with additional fields
func (l *ZeroLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	return &ZeroLogger{
		zl:    l.zl.With().Fields(fields).Logger(),
		level: l.level,
	}
}

func (l *ZeroLogger) emit(lvl zerolog.Level, msg string, err error, fields []map[string]interface{}) {
	if int32(lvl) < l.level.Load() {
		return
	}

	event := l.zl.WithLevel(lvl)
	if err != nil {
		event = event.Err(err)
	}
	for _, fieldMap := range fields {
		event = event.Fields(fieldMap)
	}
	event.Msg(msg)
}

// NewConsoleLogger creates a new console logger on stderr
func NewConsoleLogger(level string) interfaces.Logger {
	return New(os.Stderr, Options{Level: level})
}

// NewTestLogger creates a logger for testing that discards all output
func NewTestLogger() interfaces.Logger {
	return &ZeroLogger{
		zl:    zerolog.Nop(),
		level: newLevel(zerolog.DebugLevel),
	}
}

// NewLogger creates a new logger with default settings
func NewLogger() interfaces.Logger {
	return NewConsoleLogger("info")
}

var _ interfaces.Logger = (*ZeroLogger)(nil)
