package session

import (
	"sync"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/player"
)

// Server-sent event names
const (
	EventCommand = "command"
	EventScroll  = "scroll"
	EventView    = "view"
	EventPing    = "ping"
)

// DefaultOutboxCapacity bounds messages held while no stream is attached
const DefaultOutboxCapacity = 1024

// Message is one server-sent event
type Message struct {
	Event string
	Data  any
}

// Outbox queues player commands and scroll requests for the browser. It
// implements player.Sink. Views are not queued here; streams read them from
// the controller's latest-wins subscription instead.
type Outbox struct {
	sessionID string
	capacity  int

	mu      sync.Mutex
	queue   []Message
	closed  bool
	dropped int
	wake    chan struct{}
}

// NewOutbox creates an Outbox holding at most capacity messages
func NewOutbox(sessionID string, capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		sessionID: sessionID,
		capacity:  capacity,
		wake:      make(chan struct{}, 1),
	}
}

// SendCommand queues a player command
func (o *Outbox) SendCommand(cmd player.Command) {
	o.Push(Message{Event: EventCommand, Data: cmd})
}

// SendScroll queues a scroll request
func (o *Outbox) SendScroll(req activation.ScrollRequest) {
	o.Push(Message{Event: EventScroll, Data: req})
}

// Push queues msg, dropping the oldest message when full
func (o *Outbox) Push(msg Message) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.queue) >= o.capacity {
		o.queue = o.queue[1:]
		o.dropped++
		if o.dropped == 1 || o.dropped%100 == 0 {
			logger.Log.Warn().
				Str("session_id", o.sessionID).
				Int("dropped", o.dropped).
				Msg("Outbox full, dropping oldest message")
		}
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued message
func (o *Outbox) Drain() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.queue
	o.queue = nil
	return msgs
}

// Ready is signalled after messages are pushed
func (o *Outbox) Ready() <-chan struct{} {
	return o.wake
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close discards queued messages and rejects new ones
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
}

// Closed reports whether Close has been called
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
