package audit

import (
	"context"
	"time"

	"toxiguard/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventStartup   = "STARTUP"
	EventCommand   = "COMMAND"
	EventThreshold = "THRESHOLD"
	EventAction    = "ACTION"
	EventError     = "ERROR"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.SystemLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.SystemLog)) {
	l.notify = notify
}

// Log appends a system event. Persistence failures are reported on zap only.
func (l *Logger) Log(ctx context.Context, level, event, details string) {
	entry := storage.SystemLog{
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddSystemLog(ctx, entry); err != nil {
			l.logger.Warn("system log write failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("system", zap.String("level", level), zap.String("event", event), zap.String("details", details))
}
