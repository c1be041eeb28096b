// File: control/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Logger construction for the runtime and its examples. Library
// packages only consume a *zap.Logger; this is where one is built.

package control

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelController gates every core built by NewLogger, so SetLogLevel
// retunes running loggers without rebuilding them.
var levelController = zap.NewAtomicLevelAt(zap.InfoLevel)

// LoggingConfig selects the log level and an optional rotating file
// sink next to the always-on console sink.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `json:"level"`

	// File, when set, duplicates output into a size- and age-rotated
	// file at this path.
	File string `json:"file"`

	// MaxSizeMB caps one log file before rotation. Zero means 50.
	MaxSizeMB int `json:"max_size_mb"`

	// MaxBackups caps retained rotated files. Zero means 7.
	MaxBackups int `json:"max_backups"`
}

// NewLogger builds the runtime logger: console encoder, atomic level,
// caller annotation and stacktraces from Error up. With cfg.File set,
// output also goes to a rotating file.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		levelController.SetLevel(lvl)
	}

	enc := zapcore.NewConsoleEncoder(encoderConfig())
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), levelController)
	if cfg.File != "" {
		fileCore := zapcore.NewCore(enc, zapcore.AddSync(fileWriter(cfg)), levelController)
		core = zapcore.NewTee(core, fileCore)
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// SetLogLevel retunes every logger built by NewLogger.
func SetLogLevel(l zapcore.Level) {
	levelController.SetLevel(l)
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "time",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "line",
		MessageKey:    "message",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.999"))
		},
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeCaller: func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + caller.TrimmedPath() + "]")
		},
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
}

func fileWriter(cfg LoggingConfig) *timberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	backups := cfg.MaxBackups
	if backups <= 0 {
		backups = 7
	}
	return &timberjack.Logger{
		Filename:         cfg.File,
		MaxSize:          maxSize,
		MaxBackups:       backups,
		MaxAge:           7,
		LocalTime:        true,
		RotationInterval: 24 * time.Hour,
		BackupTimeFormat: "2006-01-02-15-04-05",
	}
}
