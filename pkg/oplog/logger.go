// Package oplog adapts the reference node's colored zap wrapper
// (pkg/logging) to this module's subsystems.
package oplog

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes, kept intact from the reference implementation.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightWhite   = "\033[97m"
	Gray          = "\033[90m"
	Red           = "\033[31m"
)

// Component identifies which subsystem emitted a log line.
type Component string

const (
	ComponentTrigger    Component = "TRIGGER"
	ComponentEngine     Component = "ENGINE"
	ComponentDispatcher Component = "DISPATCHER"
	ComponentSubmission Component = "SUBMISSION"
	ComponentEVMClient  Component = "EVMCLIENT"
	ComponentStore      Component = "STORE"
	ComponentOperator   Component = "OPERATOR"
)

func componentColor(c Component) string {
	switch c {
	case ComponentTrigger:
		return BrightCyan
	case ComponentEngine:
		return BrightMagenta
	case ComponentDispatcher:
		return BrightBlue
	case ComponentSubmission:
		return BrightGreen
	case ComponentEVMClient:
		return BrightYellow
	case ComponentStore:
		return Gray
	default:
		return BrightWhite
	}
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	default:
		return Red
	}
}

// Logger wraps *zap.Logger with per-component color prefixing.
type Logger struct {
	*zap.Logger
	colors bool
}

func consoleEncoder(colors bool) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("2006-01-02T15:04:05.000Z0700")
		if colors {
			enc.AppendString(Dim + ts + Reset)
		} else {
			enc.AppendString(ts)
		}
	}
	cfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		s := strings.ToUpper(level.String())
		if colors {
			enc.AppendString(fmt.Sprintf("%s%s%-5s%s", levelColor(level), Bold, s, Reset))
		} else {
			enc.AppendString(fmt.Sprintf("%-5s", s))
		}
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// New constructs a colored logger writing to the given sink.
func New(sink zapcore.WriteSyncer, colors bool) *Logger {
	core := zapcore.NewCore(consoleEncoder(colors), sink, zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), colors: colors}
}

// With returns a component-scoped logger; callers should hold this, not
// a package-level global.
func (l *Logger) With(c Component) *Scoped {
	return &Scoped{logger: l, component: c}
}

// Scoped is a Logger bound to one Component, prefixing every message.
type Scoped struct {
	logger    *Logger
	component Component
}

func (s *Scoped) prefix(msg string) string {
	if s.logger.colors {
		return fmt.Sprintf("%s[%s]%s %s", componentColor(s.component), s.component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", s.component, msg)
}

func (s *Scoped) Info(msg string, fields ...zap.Field)  { s.logger.Info(s.prefix(msg), fields...) }
func (s *Scoped) Warn(msg string, fields ...zap.Field)  { s.logger.Warn(s.prefix(msg), fields...) }
func (s *Scoped) Error(msg string, fields ...zap.Field) { s.logger.Error(s.prefix(msg), fields...) }
func (s *Scoped) Debug(msg string, fields ...zap.Field) { s.logger.Debug(s.prefix(msg), fields...) }
