package ledger

import (
	"sync"
	"time"
)

// Event describes one status transition. Creation is published with an empty
// Previous status.
type Event struct {
	RecordID  string
	Previous  Status
	Status    Status
	Terminal  bool
	NetworkID string
	At        time.Time
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events rather than blocking ledger writes.
const subscriberBuffer = 32

type subscribers struct {
	mu    sync.Mutex
	next  int
	chans map[int]chan Event
}

// Subscribe registers a change-feed consumer. The returned cancel function
// closes the channel and must be called exactly once.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	if s.subs.chans == nil {
		s.subs.chans = make(map[int]chan Event)
	}
	id := s.subs.next
	s.subs.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs.chans[id] = ch

	cancel := func() {
		s.subs.mu.Lock()
		defer s.subs.mu.Unlock()
		if c, ok := s.subs.chans[id]; ok {
			delete(s.subs.chans, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Service) publish(ev Event) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	for _, ch := range s.subs.chans {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than stall the writer.
		}
	}
}
