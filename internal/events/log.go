package events

import (
	"context"

	"go.uber.org/zap"
)

// LogListener writes every event to the structured log.
type LogListener struct {
	logger *zap.Logger
}

func NewLogListener(logger *zap.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) Handle(_ context.Context, ev Event) error {
	l.logger.Info("payment event",
		zap.String("event", ev.Name),
		zap.String("provider", ev.Provider),
		zap.String("reference", ev.Reference),
		zap.String("status", ev.Status),
		zap.Time("occurred_at", ev.OccurredAt))
	return nil
}
