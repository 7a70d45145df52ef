package stream

import (
	"context"
	"sync"
	"time"
)

// Event types emitted by the auction engine.
const (
	EventCreated   = "auction.created"
	EventBid       = "auction.bid"
	EventOutbid    = "auction.outbid"
	EventFinalized = "auction.finalized"
	EventCancelled = "auction.cancelled"
)

// Event describes one observable transition of an auction.
type Event struct {
	Type       string    `json:"type"`
	AssetID    uint64    `json:"asset_id"`
	AuctionIdx int       `json:"auction_idx"`
	Actor      string    `json:"actor,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Amount     uint64    `json:"amount,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives engine events. Implementations must not block the caller.
type Sink interface {
	Publish(evt Event)
}

// Stream fan-outs auction events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
