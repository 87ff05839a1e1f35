// Package eventsink implements C12: the change-event publication
// interface the write pipeline calls on every committed revision. A sink
// is best-effort from the pipeline's point of view — publication
// failures never fail the write itself, since the change poller's
// replay against ListChangedSince is the backstop.
package eventsink

import (
	"context"
	"log"

	"github.com/entityledger/core/internal/entity"
)

// Sink publishes change events to downstream consumers. Publish never
// returns an error to its caller by contract; implementations log and
// swallow failures, matching the write pipeline's best-effort emission
// step (§4.7 step 10).
type Sink interface {
	Publish(ctx context.Context, event entity.ChangeEvent)
}

// LoggingSink wraps another Sink and logs every publish attempt, for
// sinks that don't already do their own logging. Publish returns nothing,
// so failures of the wrapped sink are not seen or logged here.
type LoggingSink struct {
	next Sink
}

// NewLoggingSink wraps next with logging.
func NewLoggingSink(next Sink) *LoggingSink {
	return &LoggingSink{next: next}
}

// Publish logs then delegates to the wrapped sink.
func (s *LoggingSink) Publish(ctx context.Context, event entity.ChangeEvent) {
	log.Printf("eventsink: publishing %s %s rev=%d parent=%d", event.Kind, event.External, event.Revision, event.ParentRev)
	s.next.Publish(ctx, event)
}
