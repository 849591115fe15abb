// Package logger is the module-tagged leveled logger used across the
// dashboard. Messages are printf-style and carry the emitting module as the
// zap logger name.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case SILENT:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// zapLevel maps SILENT above every level zap can emit.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

// ParseLevel accepts debug, info, warn(ing), error and silent/none in any case.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// Logger wraps a sugared zap logger with a runtime-adjustable level.
type Logger struct {
	mu    sync.RWMutex
	level LogLevel
	atom  zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// New builds a console logger writing to output (stderr when nil).
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000")
	enc.CallerKey = zapcore.OmitKey
	enc.StacktraceKey = zapcore.OmitKey
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if useColor {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(output), atom)

	return &Logger{level: level, atom: atom, sugar: zap.New(core).Sugar()}
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
	l.atom.SetLevel(level.zapLevel())
}

// GetLevel returns the minimum level.
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) named(module string) *zap.SugaredLogger {
	if module == "" {
		return l.sugar
	}
	return l.sugar.Named(module)
}

func (l *Logger) Debug(module, format string, args ...any) { l.named(module).Debugf(format, args...) }
func (l *Logger) Info(module, format string, args ...any) { l.named(module).Infof(format, args...) }
func (l *Logger) Warn(module, format string, args ...any) { l.named(module).Warnf(format, args...) }
func (l *Logger) Error(module, format string, args ...any) { l.named(module).Errorf(format, args...) }

var (
	initOnce sync.Once
	global   *Logger
)

// Init installs the process-wide logger. Only the first call has effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	initOnce.Do(func() {
		global = New(level, output, useColor)
	})
}

// std returns the global logger, or nil before Init.
func std() *Logger {
	return global
}

// SetLevel changes the global level.
func SetLevel(level LogLevel) {
	if l := std(); l != nil {
		l.SetLevel(level)
	}
}

// GetLevel returns the global level; INFO before Init.
func GetLevel() LogLevel {
	if l := std(); l != nil {
		return l.GetLevel()
	}
	return INFO
}

// Sync flushes the global logger.
func Sync() {
	if l := std(); l != nil {
		_ = l.Sync()
	}
}

func Debug(module, format string, args ...any) {
	if l := std(); l != nil {
		l.Debug(module, format, args...)
	}
}

func Info(module, format string, args ...any) {
	if l := std(); l != nil {
		l.Info(module, format, args...)
	}
}

func Warn(module, format string, args ...any) {
	if l := std(); l != nil {
		l.Warn(module, format, args...)
	}
}

func Error(module, format string, args ...any) {
	if l := std(); l != nil {
		l.Error(module, format, args...)
	}
}
