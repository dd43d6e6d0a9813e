// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps zap with the two-sink (stderr + rotating file)
// shape the agent needs: each sink gets its own level, and a set of
// structured key/value fields can be attached once and carried by every
// subsequent call.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the logging package's own leveled-logging enum, independent of
// zapcore.Level so callers never need to import zap directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config controls both sinks. Output/Level configure the console sink
// (stderr by default). FilePath/FileLevel configure the rotating file sink;
// FilePath left empty disables it.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool

	FilePath   string
	FileLevel  Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig returns a stderr-only, info-level, human-readable config.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
		JSON:   false,
	}
}

// Logger is the leveled, structured logger passed around the agent.
type Logger struct {
	sugar *zap.SugaredLogger
}

func consoleEncoder(json bool) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if json {
		return zapcore.NewJSONEncoder(enc)
	}
	return zapcore.NewConsoleEncoder(enc)
}

// New builds a Logger from cfg. Two independently-leveled sinks are wired:
// the console sink always runs; the rotating file sink (via lumberjack)
// only runs when FilePath is set.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(cfg.JSON), zapcore.AddSync(cfg.Output), cfg.Level.zapLevel()),
	}
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder(true), zapcore.AddSync(lj), cfg.FileLevel.zapLevel()))
	}
	core := zapcore.NewTee(cores...)
	return &Logger{sugar: zap.New(core).Sugar()}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WithComponent tags all subsequent log lines with a "component" field.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{sugar: l.sugar.With("component", name)}
}

// WithError tags all subsequent log lines with an "error" field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{sugar: l.sugar.With("error", err)}
}

// WithFields tags all subsequent log lines with the given key/value pairs.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes any buffered log entries, best called once at shutdown.
func (l *Logger) Sync() error { return l.sugar.Sync() }

var (
	defaultLogger atomic.Pointer[Logger]
	defaultOnce   sync.Once
)

// Default returns the process-wide default Logger, lazily initialized with
// DefaultConfig() if SetDefault was never called.
func Default() *Logger {
	if p := defaultLogger.Load(); p != nil {
		return p
	}
	defaultOnce.Do(func() {
		if defaultLogger.Load() == nil {
			defaultLogger.Store(New(DefaultConfig()))
		}
	})
	return defaultLogger.Load()
}

// SetDefault installs l as the process-wide default Logger.
func SetDefault(l *Logger) { defaultLogger.Store(l) }

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
