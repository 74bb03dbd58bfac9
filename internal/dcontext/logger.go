package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("go.version", runtime.Version())
	defaultLoggerMu sync.RWMutex
)

type loggerKey struct{}

// WithLogger returns a context carrying logger. Loggers obtained from the
// returned context derive from it.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetDefaultLogger replaces the logger used for contexts that carry none.
func SetDefaultLogger(logger *logrus.Entry) {
	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()
}

// GetLogger returns the logger of ctx, falling back to the default logger.
// Each key given is resolved on ctx and, when present, added as a field named
// fmt.Sprint(key).
func GetLogger(ctx context.Context, keys ...any) *logrus.Entry {
	logger, _ := ctx.Value(loggerKey{}).(*logrus.Entry)
	if logger == nil {
		defaultLoggerMu.RLock()
		logger = defaultLogger
		defaultLoggerMu.RUnlock()
	}

	if len(keys) == 0 {
		return logger
	}
	fields := make(logrus.Fields, len(keys))
	for _, key := range keys {
		if v := ctx.Value(key); v != nil {
			fields[fmt.Sprint(key)] = v
		}
	}
	return logger.WithFields(fields)
}

// GetLoggerWithField returns the logger of ctx with one extra field, without
// changing ctx.
func GetLoggerWithField(ctx context.Context, key string, value any, keys ...any) *logrus.Entry {
	return GetLogger(ctx, keys...).WithField(key, value)
}

// GetLoggerWithFields returns the logger of ctx with the given fields, without
// changing ctx.
func GetLoggerWithFields(ctx context.Context, fields map[string]any, keys ...any) *logrus.Entry {
	return GetLogger(ctx, keys...).WithFields(logrus.Fields(fields))
}
