package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// Init builds the process-wide logger at the given level. An unparseable
// level falls back to info rather than failing startup.
func Init(level string) error {
	cfg := zap.NewProductionConfig()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	global = built
	mu.Unlock()
	return nil
}

// Logger returns the process-wide logger. Safe before Init; logs go nowhere
// until a real logger is installed.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the owning module name, the
// convention every package here uses for its own logger.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Info logs at info level on the process-wide logger.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Warn logs at warn level on the process-wide logger.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Error logs at error level on the process-wide logger.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Debug logs at debug level on the process-wide logger.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}
