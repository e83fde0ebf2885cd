// Package events publishes comment domain events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream captures every subject below.
const (
	StreamName     = "COMMENTS"
	StreamSubjects = "comments.>"
)

// Subject constants for every event type.
const (
	SubjectCommentCreated = "comments.events.created"
	SubjectSpamReported   = "comments.spam.reported"
	SubjectSpamCleared    = "comments.spam.cleared"
	SubjectNotification   = "comments.notifications.deliver"
	SubjectDeadLetter     = "comments.dlq"
)

// Event is the canonical envelope sent to all comments.* subjects.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(typ string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC(), Payload: data}, nil
}

// Decode parses an envelope received from the stream.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, errors.New("event without id or type")
	}
	return ev, nil
}

// Into unmarshals the payload into dst.
func (e Event) Into(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// JetStream is the subset of nats.JetStreamContext the publisher needs.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// ErrDisabled is returned by Publish on a stub publisher.
var ErrDisabled = errors.New("event publishing disabled")

// Publisher publishes events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  JetStream
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub (useful in tests and services without NATS).
func New(js JetStream, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// Enabled reports whether events actually leave the process.
func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// Publish sends ev and waits for the stream ack. The event id doubles as the
// JetStream message id so retried publishes are de-duplicated server side.
func (p *Publisher) Publish(ctx context.Context, subject string, ev Event) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.MsgId(ev.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishAsync sends an event fire-and-forget.
// Failures are logged as warnings and never surface to the caller.
func (p *Publisher) PublishAsync(subject, typ string, payload any) {
	if !p.Enabled() {
		return
	}
	ev, err := NewEvent(typ, payload)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("type", typ), zap.Error(err))
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("type", typ), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data, nats.MsgId(ev.ID)); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
