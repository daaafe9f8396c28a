package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_submitted, approval_required, approval_approved,
//              approval_rejected, approval_cancelled
//
// All publish operations are non-fatal. Errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishApprovalEvent publishes an approval workflow event.
// Subject: notifications.approvals.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(eventType string, instanceID int64, actorID int64, recipients []int64, payload map[string]any) {
	if p == nil || p.nc == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	recips := make([]string, 0, len(recipients))
	for _, id := range recipients {
		recips = append(recips, fmt.Sprintf("%d", id))
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      fmt.Sprintf("%d", actorID),
		Recipients:   recips,
		ResourceType: "approval_instance",
		ResourceID:   fmt.Sprintf("%d", instanceID),
		IsActionable: true,
		Severity:     "info",
		Category:     "approvals",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Int64("instance_id", instanceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Int64("instance_id", instanceID).
		Int("recipients", len(recips)).
		Msg("notification: event published")
}
