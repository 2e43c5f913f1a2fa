// Package zap builds the gateway's named subsystem loggers on top of
// go.uber.org/zap, rotating through gopkg.in/natefinch/lumberjack.v2 the
// way the teacher's logger/zap package does, minus the dozen unrelated
// storage-backend loggers the teacher carries that this gateway has no use
// for (spec.md's domain is SQL + permissions + batch, not a general ORM
// framework).
package zap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/forbearing/querygate/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Runtime, Database, Service, Router and Batch are the named per-subsystem
// loggers spec.md's ambient logging section calls for, so a line from the
// SQL handler layer reads distinctly from one the batch orchestrator emits.
var (
	Runtime  *zap.SugaredLogger
	Database *zap.SugaredLogger
	Service  *zap.SugaredLogger
	Router   *zap.SugaredLogger
	Batch    *zap.SugaredLogger

	// Gin is the access-log sink for middleware.Logger; it suppresses the
	// "msg"/"level" keys since every field on an access log line is
	// already self-describing.
	Gin *zap.Logger
)

// Option configures encoder behavior for constructors.
// DisableMsg/DisableLevel hide "msg" and "level" fields; TSLayout sets time format.
type Option struct {
	DisableMsg   bool
	DisableLevel bool
	TSLayout     string
}

// Init initializes the global zap logger and the named subsystem loggers
// from config.App.Logger.
func Init() error {
	zap.ReplaceGlobals(zap.New(
		zapcore.NewCore(newLogEncoder(), newLogWriter(), newLogLevel()),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.FatalLevel),
	))

	Runtime = NewSugared("runtime.log")
	Database = NewSugared("database.log")
	Service = NewSugared("service.log")
	Router = NewSugared("router.log")
	Batch = NewSugared("batch.log")
	Gin = NewGin("access.log")

	return nil
}

// Sync flushes any buffered log entries. Call once before process exit.
func Sync() {
	_ = zap.L().Sync()
	for _, l := range []*zap.SugaredLogger{Runtime, Database, Service, Router, Batch} {
		if l != nil {
			_ = l.Sync()
		}
	}
	if Gin != nil {
		_ = Gin.Sync()
	}
}

// NewZap builds a *zap.Logger with optional filename and options.
// filename: target log file name ("" or "/dev/stdout" for console)
func NewZap(filename string, opts ...Option) *zap.Logger {
	return zap.New(
		zapcore.NewCore(newLogEncoder(opts...), newLogWriter(filename), newLogLevel()),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.FatalLevel))
}

// NewSugared builds a *zap.SugaredLogger with optional filename and options.
func NewSugared(filename string, opts ...Option) *zap.SugaredLogger {
	return NewZap(filename, opts...).Sugar()
}

// NewGin builds a *zap.Logger for Gin access logs (no msg/level keys).
func NewGin(filename string) *zap.Logger {
	return zap.New(zapcore.NewCore(
		newLogEncoder(Option{DisableMsg: true, DisableLevel: true}),
		newLogWriter(filename),
		newLogLevel(),
	))
}

// newLogWriter selects the log sink (stdout/stderr or a rotating file).
// An empty filename falls back to config.App.Logger.File.
func newLogWriter(filename string) zapcore.WriteSyncer {
	file := filename
	if len(file) == 0 {
		file = config.App.Logger.File
	}
	switch strings.TrimSpace(file) {
	case "/dev/stdout", "":
		return zapcore.AddSync(os.Stdout)
	case "/dev/stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(config.App.Dir, file),
			MaxAge:     config.App.Logger.MaxAge,
			MaxSize:    config.App.Logger.MaxSize,
			MaxBackups: config.App.Logger.MaxBackups,
			LocalTime:  true,
		})
	}
}

// newLogLevel parses the configured level; defaults to Info.
func newLogLevel() zapcore.Level {
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(config.App.Logger.Level)); err != nil {
		return zapcore.InfoLevel
	}
	return *level
}

// newLogEncoder builds a JSON/console encoder with optional field
// suppression and time layout.
func newLogEncoder(opt ...Option) zapcore.Encoder {
	encConfig := zap.NewProductionEncoderConfig()
	encConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if len(opt) > 0 {
		o := opt[0]
		if o.DisableMsg {
			encConfig.MessageKey = ""
		}
		if o.DisableLevel {
			encConfig.LevelKey = ""
		}
		if len(o.TSLayout) > 0 {
			encConfig.EncodeTime = zapcore.TimeEncoderOfLayout(o.TSLayout)
		}
	}
	switch strings.ToLower(config.App.Logger.Format) {
	case "text", "console":
		return zapcore.NewConsoleEncoder(encConfig)
	default:
		return zapcore.NewJSONEncoder(encConfig)
	}
}
