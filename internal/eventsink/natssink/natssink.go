// Package natssink implements a Sink publishing change events to a NATS
// JetStream stream, grounded on the teacher's internal/eventbus (bus.go's
// publishToJetStream, streams.go's subject/stream layout).
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/entityledger/core/internal/entity"
	"github.com/nats-io/nats.go"
)

const (
	// Stream is the JetStream stream holding every change event.
	Stream = "ENTITY_CHANGES"

	// SubjectPrefix namespaces subjects as "changes.<entity_type>".
	SubjectPrefix = "changes."
)

// Sink publishes to a JetStream context. Publication is fire-and-forget:
// a failure is logged and swallowed, since the change poller's
// ListChangedSince replay is the source of truth for consumers that need
// at-least-once delivery.
type Sink struct {
	js nats.JetStreamContext
}

// New builds a Sink over an already-connected JetStream context.
func New(js nats.JetStreamContext) *Sink {
	return &Sink{js: js}
}

// EnsureStream creates the ENTITY_CHANGES stream if it doesn't already
// exist. Call once during daemon startup.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     Stream,
			Subjects: []string{SubjectPrefix + ">"},
			Storage:  nats.FileStorage,
			MaxMsgs:  1_000_000,
			MaxBytes: 1 << 30,
		})
		if err != nil {
			return fmt.Errorf("natssink: create %s stream: %w", Stream, err)
		}
	}
	return nil
}

// Subject returns the publish subject for an external ID, e.g.
// "changes.item". Falls back to "changes.unknown" for malformed IDs,
// which should never occur past write-pipeline validation.
func Subject(ext entity.ExternalID) string {
	typ, ok := ext.Type()
	if !ok {
		return SubjectPrefix + "unknown"
	}
	return SubjectPrefix + string(typ)
}

// Publish implements eventsink.Sink.
func (s *Sink) Publish(_ context.Context, event entity.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("natssink: marshal event for %s failed: %v", event.External, err)
		return
	}

	subject := Subject(event.External)
	ack, err := s.js.Publish(subject, data)
	if err != nil {
		log.Printf("natssink: publish to %s failed: %v", subject, err)
		return
	}
	log.Printf("natssink: published to %s (stream=%s seq=%d)", subject, ack.Stream, ack.Sequence)
}
