package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, FileConfig{}, false)
}

// Named returns ctx carrying a sub-logger of the one already in ctx.
func Named(ctx context.Context, name string) (context.Context, *zap.Logger) {
	logger := FromContext(ctx).Named(name)
	return NewContext(ctx, logger), logger
}

// FileConfig configures the optional rotating log file.
// An empty Filename disables file logging.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
}

func New(level zapcore.LevelEnabler, file FileConfig, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	consoleSyncer := zapcore.Lock(os.Stdout)
	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(encoder, consoleSyncer, level))

	if file.Filename != "" {
		maxSize := file.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 500
		}
		fileLogger := &lumberjack.Logger{
			Filename:   file.Filename,
			MaxSize:    maxSize,
			MaxBackups: file.MaxBackups,
			MaxAge:     28,
			Compress:   true,
		}
		fs := zapcore.AddSync(fileLogger)
		cores = append(cores, zapcore.NewCore(encoder, fs, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
