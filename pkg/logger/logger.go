package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerConfig struct {
	Level       string
	Dir         string // empty disables file output
	MaxSizeMB   int
	MaxBackups  int
	Production  bool
	Service     string
	Environment string
}

// New builds a logger writing JSON to rotated combined.log and error.log files
// under Dir, teed with a console core. Outside production the console uses the
// colored development encoder.
func New(config LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = 5
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 5
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var cores []zapcore.Core

	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cores = append(cores,
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator(config, "combined.log")), level),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator(config, "error.log")), zapcore.ErrorLevel),
		)
	}

	if !config.Production {
		devConfig := zap.NewDevelopmentEncoderConfig()
		devConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(devConfig), zapcore.Lock(os.Stdout), level))
	} else if config.Dir == "" {
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.Lock(os.Stdout), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if config.Service != "" {
		l = l.With(zap.String("service", config.Service))
	}
	if config.Environment != "" {
		l = l.With(zap.String("environment", config.Environment))
	}
	return l, nil
}

func rotator(config LoggerConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(config.Dir, name),
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		Compress:   true,
	}
}
