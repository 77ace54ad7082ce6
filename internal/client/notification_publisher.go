package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// NotificationPublisher publishes approval events to NATS JetStream for
// consumption by the be-plt-notifications service.
//
// Subject convention: notifications.approvals.<type>
//
// Delivery is best-effort by design: the services log publish errors and
// never let them fail the approval operation that triggered them.
type NotificationPublisher struct {
	js             nats.JetStreamContext
	nc             *nats.Conn
	log            zerolog.Logger
	optOutSubject  string
	requestTimeout time.Duration
}

// optOutRequest is the request-reply schema for preference checks, answered
// by the notifications service.
type optOutRequest struct {
	PrincipalID string `json:"principal_id"`
	Type        string `json:"type"`
}

type optOutReply struct {
	OptedOut bool `json:"opted_out"`
}

// NewNotificationPublisher creates a publisher on an established NATS
// connection.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) (*NotificationPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &NotificationPublisher{
		js:             js,
		nc:             nc,
		log:            log,
		optOutSubject:  "notifications.optout.check",
		requestTimeout: 2 * time.Second,
	}, nil
}

// Send publishes one notification.
func (p *NotificationPublisher) Send(ctx context.Context, n service.Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("notifications.approvals.%s", n.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", subject).
		Int("recipients", len(n.Recipients)).
		Msg("notification: event published")
	return nil
}

// SendMany publishes a batch, continuing past individual failures and
// returning the first error.
func (p *NotificationPublisher) SendMany(ctx context.Context, ns []service.Notification) error {
	var firstErr error
	for _, n := range ns {
		if err := p.Send(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsOptedOut asks the notifications service whether the principal declined
// this notification type. Fails open: lookup errors mean "not opted out" so
// a preferences outage never suppresses approvals traffic.
func (p *NotificationPublisher) IsOptedOut(ctx context.Context, principalID string, t service.NotificationType) bool {
	req, err := json.Marshal(optOutRequest{PrincipalID: principalID, Type: string(t)})
	if err != nil {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	msg, err := p.nc.RequestWithContext(reqCtx, p.optOutSubject, req)
	if err != nil {
		p.log.Debug().Err(err).
			Str("principal_id", principalID).
			Msg("notification: opt-out check failed, assuming opted in")
		return false
	}

	var reply optOutReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false
	}
	return reply.OptedOut
}
