package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/breaker"
	"github.com/spec-kit/ticket-orchestrator/internal/events"
	"github.com/spec-kit/ticket-orchestrator/internal/observability"
)

// MonitorService turns breaker transitions into logs, counters and events.
type MonitorService struct {
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewMonitorService creates the service.
func NewMonitorService(dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger) *MonitorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorService{
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "breaker_monitor")),
	}
}

// OnBreakerTransition is installed as breaker.Config.OnStateChange. The
// breaker calls it outside its own lock.
func (m *MonitorService) OnBreakerTransition(t breaker.Transition) {
	m.metrics.Inc(observability.CounterBreakerTransition)
	fields := []zap.Field{
		zap.String("breaker", t.Name),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
		zap.Int("failures", t.Failures),
	}
	if t.To == breaker.StateOpen {
		m.logger.Warn("circuit opened; serving fallback classifier", fields...)
	} else {
		m.logger.Info("circuit state changed", fields...)
	}

	if m.dispatcher == nil {
		return
	}
	_ = m.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventBreakerStateChanged,
		Timestamp: t.At,
		Payload: events.BreakerStateChangedPayload{
			Name:     t.Name,
			From:     t.From.String(),
			To:       t.To.String(),
			Failures: t.Failures,
		},
	})
}
