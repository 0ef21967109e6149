package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/config"
	"github.com/spec-kit/ticket-orchestrator/internal/events"
	"github.com/spec-kit/ticket-orchestrator/internal/observability"
)

const (
	colorRed    = 16711680
	colorOrange = 16753920
)

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []webhookField `json:"fields"`
	Footer    map[string]any `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type webhookPayload struct {
	Username string         `json:"username"`
	Embeds   []webhookEmbed `json:"embeds"`
}

// NotificationService posts chat-style alerts for urgent tickets and new
// incidents. Delivery is asynchronous and failures never reach the pipeline.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
	wg         sync.WaitGroup
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "notifications")),
		metrics:    metrics,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketUrgent, n.handleTicketUrgent)
	n.dispatcher.Subscribe(events.EventIncidentCreated, n.handleIncidentCreated)
}

// Wait blocks until in-flight deliveries finish.
func (n *NotificationService) Wait() {
	n.wg.Wait()
}

func (n *NotificationService) handleTicketUrgent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketUrgentPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	n.logger.Info("TicketUrgent",
		zap.String("ticket_id", event.TicketID),
		zap.Float64("urgency_score", payload.Urgency))
	n.send(ctx, webhookPayload{
		Username: "Smart Alert Bot",
		Embeds: []webhookEmbed{{
			Title: "🚨 High Urgency Ticket",
			Color: colorRed,
			Fields: []webhookField{
				{Name: "Ticket ID", Value: event.TicketID, Inline: true},
				{Name: "Category", Value: string(payload.Category), Inline: true},
				{Name: "Urgency Score", Value: fmt.Sprintf("%.3f", payload.Urgency), Inline: true},
				{Name: "Model", Value: string(payload.ModelUsed), Inline: true},
			},
			Footer:    map[string]any{"text": "ticket-orchestrator"},
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		}},
	}, event)
	return nil
}

func (n *NotificationService) handleIncidentCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.IncidentCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	n.logger.Warn("IncidentCreated",
		zap.String("incident_id", event.IncidentID),
		zap.Int("members", len(payload.MemberIDs)))
	n.send(ctx, webhookPayload{
		Username: "Smart Alert Bot",
		Embeds: []webhookEmbed{{
			Title: "🔥 Master Incident Opened",
			Color: colorOrange,
			Fields: []webhookField{
				{Name: "Incident ID", Value: event.IncidentID, Inline: false},
				{Name: "Category", Value: string(payload.Category), Inline: true},
				{Name: "Tickets", Value: fmt.Sprintf("%d", len(payload.MemberIDs)), Inline: true},
				{Name: "Suppressed Alerts", Value: fmt.Sprintf("%d", payload.SuppressedAlerts), Inline: true},
				{Name: "Sample", Value: payload.SampleText, Inline: false},
			},
			Footer:    map[string]any{"text": "ticket-orchestrator"},
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		}},
	}, event)
	return nil
}

func (n *NotificationService) send(ctx context.Context, payload webhookPayload, event events.Event) {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// Delivery outlives the publishing request but not the webhook timeout.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout())
		defer cancel()
		if err := n.post(sendCtx, url, payload); err != nil {
			n.metrics.Inc(observability.CounterNotifyFailures)
			n.logger.Warn("webhook delivery failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}()
}

// post delivers payload, bounded by the earlier of ctx's deadline and the
// configured timeout.
func (n *NotificationService) post(ctx context.Context, url string, payload webhookPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := n.cfg.Timeout()
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	agent := fiber.Post(url)
	agent.JSON(payload)
	agent.Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook status %d: %s", code, truncateBody(body, 200))
	}
	return nil
}

func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}
