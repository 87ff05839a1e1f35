// Package inproc implements C13's in-process Sink test double: a
// channel-backed fan-out used by unit tests and by local development
// without a message broker.
package inproc

import (
	"context"
	"sync"

	"github.com/entityledger/core/internal/entity"
)

// Sink records every published event in order and, if a subscriber
// channel is attached, also forwards to it non-blockingly.
type Sink struct {
	mu       sync.Mutex
	events   []entity.ChangeEvent
	sub      chan entity.ChangeEvent
}

// New builds an empty in-process Sink.
func New() *Sink {
	return &Sink{}
}

// Subscribe attaches a channel that receives a copy of every future
// published event. Only one subscriber is supported; a second call
// replaces the first. Sends are non-blocking: a full channel drops the
// event rather than stalling the write pipeline.
func (s *Sink) Subscribe(buffer int) <-chan entity.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan entity.ChangeEvent, buffer)
	s.sub = ch
	return ch
}

// Publish implements eventsink.Sink.
func (s *Sink) Publish(_ context.Context, event entity.ChangeEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		select {
		case sub <- event:
		default:
		}
	}
}

// Events returns every event published so far, in publication order.
func (s *Sink) Events() []entity.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.ChangeEvent, len(s.events))
	copy(out, s.events)
	return out
}
