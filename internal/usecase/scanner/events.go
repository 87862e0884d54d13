package scanner

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// EventType identifies a scan lifecycle event
type EventType string

const (
	EventScanStarted    EventType = "scan_started"
	EventProviderResult EventType = "provider_result"
	EventScanCompleted  EventType = "scan_completed"
	EventScanFailed     EventType = "scan_failed"
)

// Event is published for every observable step of a scan job
type Event struct {
	Type      EventType                    `json:"type"`
	JobID     string                       `json:"job_id"`
	IP        string                       `json:"ip"`
	Result    *entity.ServiceScanResult    `json:"result,omitempty"`
	Scan      *entity.AggregatedScanResult `json:"scan,omitempty"`
	Timestamp time.Time                    `json:"timestamp"`
}

// Publisher receives scan events
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(e Event)

// Publish calls f(e)
func (f PublisherFunc) Publish(e Event) {
	f(e)
}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to subscribers.
// Delivery is best effort: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewBus creates an event bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("[SCAN] Subscriber buffer full, event dropped",
				"subscriber", id,
				"type", e.Type,
				"ip", e.IP)
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
