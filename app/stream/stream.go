// Package stream mirrors checkout phase changes onto NATS so downstream
// consumers (fulfilment, analytics) can follow attempts without polling the
// service. Publishing is best effort: a missing or failed broker never
// touches the payment flow.
package stream

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/orchestrator"
)

const subjectPrefix = "checkout.attempt."

type attemptEvent struct {
	SessionID string    `json:"session_id,omitempty"`
	AttemptID string    `json:"attempt_id"`
	Reference string    `json:"reference,omitempty"`
	Method    string    `json:"method"`
	Phase     string    `json:"phase"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher struct {
	conn      *nats.Conn
	sessionID string
	logger    logrus.FieldLogger
}

// NewPublisher returns a phase-change listener publishing to
// checkout.attempt.<phase>. A nil connection yields a no-op publisher, so
// callers wire it unconditionally.
func NewPublisher(conn *nats.Conn, sessionID string, logger logrus.FieldLogger) *Publisher {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("module", "stream")
	}
	return &Publisher{conn: conn, sessionID: sessionID, logger: logger}
}

func (p *Publisher) OnPhaseChange(event orchestrator.Event) {
	if p == nil || p.conn == nil {
		return
	}
	payload := attemptEvent{
		SessionID: p.sessionID,
		AttemptID: event.AttemptID,
		Reference: event.Reference,
		Method:    string(event.Method),
		Phase:     string(event.Phase),
		At:        time.Now().UTC(),
	}
	if event.Err != nil {
		payload.Error = event.Err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.conn.Publish(subjectPrefix+payload.Phase, data); err != nil {
		p.logger.WithError(err).WithField("phase", payload.Phase).Warn("Failed to publish attempt event")
	}
}
