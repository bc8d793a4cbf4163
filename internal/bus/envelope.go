// Package bus implements the typed event bus at the center of vivo-opscore.
//
// Modules never call each other directly: they publish and subscribe to
// named topics through a single Bus instance. This file defines the
// envelope every message travels in.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Classification marks the sensitivity of an envelope's payload, set by
// the producer or by the PII guard when it re-classifies a message.
type Classification string

const (
	Public         Classification = "PUBLIC"
	SensitiveLow   Classification = "SENSITIVE_LOW"
	SensitiveHigh  Classification = "SENSITIVE_HIGH"
)

// Topic identifies a typed channel on the bus. Topics are declared once
// in topics.go; Bus.Subscribe rejects an undeclared topic when the
// subscription is made, and Bus.Publish rejects one when it is published.
type Topic string

// Envelope is the only thing that ever crosses the bus. Payload is the
// topic-specific value; at Publish time it is checked by the topic's
// Descriptor.Validate (DefaultRegistry's validators reject only nil).
type Envelope struct {
	Topic          Topic          `json:"topic"`
	Ts             time.Time      `json:"ts"`
	CorrelationID  string         `json:"correlationId"`
	Producer       string         `json:"producer"`
	Payload        any            `json:"payload"`
	Classification Classification `json:"classification"`
}

// NewEnvelope builds an envelope, assigning a correlation id if the caller
// did not already derive one from an upstream event. ts is supplied by the
// caller (normally clock.Clock.Now()) rather than time.Now() so that tests
// can drive a virtual clock.
func NewEnvelope(topic Topic, ts time.Time, producer string, payload any, class Classification, corrID string) Envelope {
	if corrID == "" {
		corrID = uuid.NewString()
	}
	return Envelope{
		Topic:          topic,
		Ts:             ts,
		CorrelationID:  corrID,
		Producer:       producer,
		Payload:        payload,
		Classification: class,
	}
}

// Derive builds a new envelope that inherits the correlation id of e, for
// modules emitting a downstream event in response to an upstream one.
func (e Envelope) Derive(topic Topic, ts time.Time, producer string, payload any, class Classification) Envelope {
	return NewEnvelope(topic, ts, producer, payload, class, e.CorrelationID)
}
