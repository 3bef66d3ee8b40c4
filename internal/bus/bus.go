package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// TopicAgentStatus carries agent lifecycle transitions.
const TopicAgentStatus = "agent.status"

// DefaultCapacity bounds the shared queue across all topics.
const DefaultCapacity = 1000

var ErrClosed = errors.New("bus closed")

// Message is a topic-tagged payload delivered to all subscribers of the topic.
type Message struct {
	Topic   string
	Payload map[string]any
}

// Handler consumes one message. A returned error is logged and does not
// affect delivery to other subscribers.
type Handler func(Message) error

// Bus is a bounded single-queue publish/subscribe bus. One consumer
// goroutine drains the queue in strict publish order; Publish blocks while
// the queue is full. Subscribers run on the consumer goroutine.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]Handler
	queue    chan Message
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:  make(map[string][]Handler),
		queue: make(chan Message, capacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Subscribe registers cb for messages published to topic.
func (b *Bus) Subscribe(topic string, cb Handler) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], cb)
	b.mu.Unlock()
}

// Publish enqueues the message, blocking while the queue is at capacity.
// It fails only after Stop has been observed.
func (b *Bus) Publish(topic string, payload map[string]any) error {
	msg := Message{Topic: topic, Payload: payload}
	select {
	case b.queue <- msg:
		return nil
	case <-b.stop:
		return ErrClosed
	}
}

// Start launches the consumer goroutine. Calling Start twice is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.consume()
	slog.Debug("message bus started")
}

// Stop signals the consumer, waits for it to drain queued messages and
// exit, bounded by timeout. Pending publishers are released with ErrClosed.
func (b *Bus) Stop(timeout time.Duration) {
	b.stopOnce.Do(func() { close(b.stop) })
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return
	}
	select {
	case <-b.done:
	case <-time.After(timeout):
		slog.Warn("message bus consumer did not exit in time", "timeout", timeout)
	}
	slog.Debug("message bus stopped")
}

// Depth reports the number of undelivered messages.
func (b *Bus) Depth() int { return len(b.queue) }

func (b *Bus) consume() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			// Drain whatever was accepted before stop, then exit.
			for {
				select {
				case msg := <-b.queue:
					b.dispatch(msg)
				default:
					return
				}
			}
		case msg := <-b.queue:
			b.dispatch(msg)
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[msg.Topic]...)
	b.mu.RUnlock()
	for _, cb := range handlers {
		b.deliver(cb, msg)
	}
}

// deliver isolates one subscriber: panics and errors are logged and do not
// reach the consumer loop or other subscribers.
func (b *Bus) deliver(cb Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "topic", msg.Topic, "panic", r)
		}
	}()
	if err := cb(msg); err != nil {
		slog.Error("subscriber callback failed", "topic", msg.Topic, "error", err)
	}
}
