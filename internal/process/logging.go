// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"os"
	"runtime"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Error is a process error class
var Error = errs.Class("process error")

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `help:"the minimum log level to log" default:"info"`
	Development bool   `help:"if true, set logging to development mode" default:"false"`
	Caller      bool   `help:"if true, log function filename and line number" default:"false"`
	Stack       bool   `help:"if true, log stack traces" default:"false"`
	Encoding    string `help:"configures log encoding. can either be 'console' or 'json'" default:"console"`
	Output      string `help:"can be stdout, stderr, or a filename" default:"stderr"`
}

// NewLogger creates new logger configured by config.
func NewLogger(config LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		return nil, Error.New("invalid log level %q: %v", config.Level, err)
	}

	levelEncoder := zapcore.CapitalColorLevelEncoder
	if runtime.GOOS == "windows" || config.Encoding == "json" {
		levelEncoder = zapcore.CapitalLevelEncoder
	}

	timeKey := "T"
	if os.Getenv("CASPER_LOG_NOTIME") != "" {
		timeKey = ""
	}

	logger, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.Caller,
		DisableStacktrace: !config.Stack,
		Encoding:          config.Encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        timeKey,
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    levelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{config.Output},
		ErrorOutputPaths: []string{config.Output},
	}.Build()
	return logger, Error.Wrap(err)
}
