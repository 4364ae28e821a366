package notify

import (
	"log"
	"sync"

	"studyforge/internal/models"
)

// Broker fans job change events out to in-process subscribers. Topics are job
// ids; subscribing to the empty topic receives every event (the dashboard
// firehose). Publishing never blocks: a subscriber whose buffer is full
// simply misses that event and catches up from the record store.
type Broker struct {
	mu      sync.Mutex
	subs    map[string]map[int]chan models.ChangeEvent
	nextID  int
	bufSize int
	closed  bool
}

// Firehose is the topic that receives all events regardless of job id.
const Firehose = ""

// NewBroker creates a broker whose subscriber channels hold bufSize pending
// events each.
func NewBroker(bufSize int) *Broker {
	return &Broker{
		subs:    make(map[string]map[int]chan models.ChangeEvent),
		bufSize: bufSize,
	}
}

// Subscribe registers a subscriber for one topic. The returned cancel func is
// idempotent and must be called when the subscriber goes away.
func (b *Broker) Subscribe(topic string) (<-chan models.ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.ChangeEvent, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan models.ChangeEvent)
	}
	b.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if m, ok := b.subs[topic]; ok {
				if c, ok := m[id]; ok {
					delete(m, id)
					close(c)
					if len(m) == 0 {
						delete(b.subs, topic)
					}
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to the job's topic and the firehose, dropping
// it for any subscriber that cannot take it right now.
func (b *Broker) Publish(ev models.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.deliverLocked(ev.JobID, ev)
	b.deliverLocked(Firehose, ev)
}

func (b *Broker) deliverLocked(topic string, ev models.ChangeEvent) {
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			log.Printf("[NOTIFY] Dropped event for job %s: subscriber buffer full", ev.JobID)
		}
	}
}

// SubscriberCount returns the number of live subscribers on a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close tears the broker down at process shutdown, closing every channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, m := range b.subs {
		for id, ch := range m {
			close(ch)
			delete(m, id)
		}
		delete(b.subs, topic)
	}
}
