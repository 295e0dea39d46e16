package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultOutputPaths are used when NewLogger is called without explicit outputs.
var DefaultOutputPaths = []string{"stderr", "ngp-harness.log"}

// Logger is a wrapper around zap.SugaredLogger
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a new Logger instance writing to outputPaths, or DefaultOutputPaths when none are given.
func NewLogger(development, debug bool, outputPaths ...string) (*Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if len(outputPaths) == 0 {
		outputPaths = DefaultOutputPaths
	}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = outputPaths
	config.ErrorOutputPaths = outputPaths

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	sugar := zapLogger.Sugar()
	return &Logger{sugar}, nil
}

// NewNop returns a Logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.SugaredLogger.Named(name)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
