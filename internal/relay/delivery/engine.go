// Package delivery fans a single encoded payload out to a set of connection handles.
package delivery

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// Target is one intended recipient. A nil Conn means the user has no live session.
type Target struct {
	UserID string
	Conn   session.Conn
}

// TargetsOf converts registry snapshots into delivery targets.
func TargetsOf(sessions []session.Session) []Target {
	targets := make([]Target, 0, len(sessions))
	for _, s := range sessions {
		targets = append(targets, Target{UserID: s.UserID, Conn: s.Conn})
	}
	return targets
}

// Report classifies every target of one fan-out into exactly one outcome.
type Report struct {
	Kind      payload.Kind
	Delivered []string
	Offline   []string
	Failed    []string
}

// DeliveredCount returns the number of targets whose send succeeded.
func (r Report) DeliveredCount() int {
	return len(r.Delivered)
}

// Details converts the report into the wire-level notification details.
func (r Report) Details() payload.NotificationDetails {
	return payload.NotificationDetails{
		Sent:    nonNil(r.Delivered),
		Offline: nonNil(r.Offline),
		Failed:  nonNil(r.Failed),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Engine serializes payloads and sends them to recipients.
type Engine struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine.
//
// Precondition: logger must be non-nil; metrics may be nil.
func NewEngine(logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, metrics: metrics}
}

// Deliver encodes p once and sends it to every target. A transport error on one
// target is logged and recorded; the remaining targets are still attempted.
//
// Postcondition: Every target appears in exactly one of the report's lists, in
// target order. Returns an error only if p cannot be encoded, in which case
// nothing is sent.
func (e *Engine) Deliver(p payload.Payload, targets []Target) (Report, error) {
	data, err := payload.Encode(p)
	if err != nil {
		return Report{}, fmt.Errorf("delivering payload: %w", err)
	}

	kind := p.Kind()
	report := Report{Kind: kind}
	for _, t := range targets {
		switch e.sendOne(kind, t, data) {
		case observability.OutcomeDelivered:
			report.Delivered = append(report.Delivered, t.UserID)
		case observability.OutcomeOffline:
			report.Offline = append(report.Offline, t.UserID)
		default:
			report.Failed = append(report.Failed, t.UserID)
		}
	}
	return report, nil
}

// DeliverOne sends p to a single target.
//
// Postcondition: Returns the outcome (see observability.Outcome*) or an encode error.
func (e *Engine) DeliverOne(p payload.Payload, t Target) (string, error) {
	data, err := payload.Encode(p)
	if err != nil {
		return "", fmt.Errorf("delivering payload: %w", err)
	}
	return e.sendOne(p.Kind(), t, data), nil
}

func (e *Engine) sendOne(kind payload.Kind, t Target, data []byte) string {
	if t.Conn == nil || !t.Conn.IsOpen() {
		e.metrics.Delivery(string(kind), observability.OutcomeOffline)
		return observability.OutcomeOffline
	}
	if err := t.Conn.Send(data); err != nil {
		e.logger.Warn("send failed",
			zap.String("user_id", t.UserID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		e.metrics.Delivery(string(kind), observability.OutcomeFailed)
		return observability.OutcomeFailed
	}
	e.metrics.Delivery(string(kind), observability.OutcomeDelivered)
	return observability.OutcomeDelivered
}
