// pkg/trace/logsink.go
package trace

import (
	"go.uber.org/zap"
)

// LogSink writes every trace event to a zap logger at debug level, with
// failures raised to warn so they stand out when scanning logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{
		logger: logger.With(zap.String("component", "trace")),
	}
}

// Record logs the event.
func (ls *LogSink) Record(event Event) {
	fields := []zap.Field{
		zap.String("connection_id", event.ConnectionID),
		zap.String("correlation_id", event.CorrelationID.String()),
		zap.String("phase", string(event.Phase)),
		zap.Time("timestamp", event.Timestamp),
		zap.Int("attempt", event.Attempt),
	}
	if event.Detail != "" {
		fields = append(fields, zap.String("detail", event.Detail))
	}

	switch event.Phase {
	case PhaseFailure, PhaseTimeout:
		if event.Error != "" {
			fields = append(fields, zap.String("error", event.Error))
		}
		ls.logger.Warn("Operation trace", fields...)
	default:
		ls.logger.Debug("Operation trace", fields...)
	}
}
