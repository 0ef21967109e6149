package worker

import (
	"github.com/spec-kit/ticket-orchestrator/internal/events"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
)

// StartNotificationWorker registers the alert handlers and, when a forwarder
// is configured, mirrors every event to Kafka.
func StartNotificationWorker(notificationService *service.NotificationService, forwarder *events.KafkaForwarder, dispatcher events.Dispatcher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if forwarder != nil && dispatcher != nil {
		forwarder.RegisterHandlers(dispatcher)
	}
}
