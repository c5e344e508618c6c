// Package stream fans successful-ingest notifications out to connected
// subscribers (SSE clients). Events carry membership metadata only, never
// object payloads, so no anonymization applies on this path.
package stream

import (
	"context"
	"sync"
	"time"
)

// ObjectEvent announces that an object landed in a collection.
type ObjectEvent struct {
	CollectionID string    `json:"collection_id"`
	OwnerOrg     string    `json:"-"`
	StixID       string    `json:"stix_id"`
	StixType     string    `json:"stix_type"`
	Added        time.Time `json:"added"`
}

// Stream fan-outs ingest events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch chan ObjectEvent
	// keep restricts delivery; nil means deliver everything.
	keep func(ObjectEvent) bool
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events accepted by keep (nil keep accepts all). The channel is closed when
// the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, keep func(ObjectEvent) bool) <-chan ObjectEvent {
	ch := make(chan ObjectEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, keep: keep}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt ObjectEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.keep != nil && !sub.keep(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking ingest.
		}
	}
}
