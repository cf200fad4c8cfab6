package session

import (
	"sync"

	"bitfinder/internal/domain"
)

const subscriberBuffer = 64

type broker struct {
	mu          sync.Mutex
	subscribers map[chan domain.SessionEvent]struct{}
	closed      bool
}

// Subscribe returns a stream of lifecycle events and a function that ends
// the subscription. Slow subscribers miss events rather than block the
// manager.
func (m *Manager) Subscribe() (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, subscriberBuffer)
	m.events.mu.Lock()
	if m.events.closed {
		m.events.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.events.subscribers[ch] = struct{}{}
	m.events.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.events.mu.Lock()
			defer m.events.mu.Unlock()
			if _, ok := m.events.subscribers[ch]; ok {
				delete(m.events.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (m *Manager) publish(kind domain.SessionEventType, e *entry, errText string) {
	event := domain.SessionEvent{Type: kind, InfoHash: e.hash, Error: errText}
	if kind != domain.EventRemoved {
		s := m.project(m.view(e))
		event.Session = &s
	}

	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	for ch := range m.events.subscribers {
		select {
		case ch <- event:
		default:
			m.logger.Debug("dropped session event for slow subscriber")
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
