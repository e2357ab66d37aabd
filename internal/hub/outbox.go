package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrOutboxClosed = errors.New("outbox closed")

// Message: исходящее событие хаба.
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

func NewMessage(typ, channel string, data any) (Message, error) {
	msg := Message{Type: typ, Channel: channel, Timestamp: time.Now().UTC()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// Outbox: ограниченная FIFO-очередь соединения. При переполнении выбрасывается самое старое.
type Outbox struct {
	mu      sync.Mutex
	items   []Message
	cap     int
	closed  bool
	dropped uint64
	ready   chan struct{}
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Outbox{cap: capacity, items: make([]Message, 0, capacity), ready: make(chan struct{}, 1)}
}

// Push добавляет сообщение. dropped=true: ради него вытеснено старое.
func (o *Outbox) Push(m Message) (dropped bool, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ErrOutboxClosed
	}
	if len(o.items) >= o.cap {
		copy(o.items, o.items[1:])
		o.items = o.items[:len(o.items)-1]
		o.dropped++
		dropped = true
	}
	o.items = append(o.items, m)
	select {
	case o.ready <- struct{}{}:
	default:
	}
	o.mu.Unlock()
	return dropped, nil
}

// Drain забирает все накопленные сообщения в порядке поступления.
func (o *Outbox) Drain() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return nil
	}
	out := make([]Message, len(o.items))
	copy(out, o.items)
	o.items = o.items[:0]
	return out
}

// Ready сигналит, что в очереди что-то появилось.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ready)
	}
}
