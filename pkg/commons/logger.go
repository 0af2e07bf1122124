// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package commons

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface shared by every service. It is a thin
// contract over zap's sugared logger so packages never import zap directly.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

type loggerOptions struct {
	level    string
	filePath string
	service  string
}

// LoggerOption configures NewApplicationLogger.
type LoggerOption func(*loggerOptions)

// WithLogLevel sets the minimum level (debug, info, warn, error).
func WithLogLevel(level string) LoggerOption {
	return func(o *loggerOptions) {
		o.level = level
	}
}

// WithLogFile writes rotated log files instead of stdout.
func WithLogFile(path string) LoggerOption {
	return func(o *loggerOptions) {
		o.filePath = path
	}
}

// WithServiceName stamps every entry with the service field.
func WithServiceName(name string) LoggerOption {
	return func(o *loggerOptions) {
		o.service = name
	}
}

// NewApplicationLogger builds the process-wide logger. Without options the
// level comes from LOG_LEVEL (default info) and output goes to stdout.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	options := &loggerOptions{
		level: os.Getenv("LOG_LEVEL"),
	}
	for _, opt := range opts {
		opt(options)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var sink zapcore.WriteSyncer
	if options.filePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   options.filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		sink,
		parseLevel(options.level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if options.service != "" {
		logger = logger.With(zap.String("service", options.service))
	}
	return &applicationLogger{logger.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
