package logbus

import (
	"sync"
	"time"
)

// Message types published on the bus.
const (
	TypeLog      = "log"
	TypeBought   = "bought"
	TypeStopped  = "stopped"
	TypeRunState = "run_state"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type subscriber struct {
	types map[string]struct{}
}

func (s subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]subscriber
	mirror func(LogData)
	closed bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]subscriber),
	}
}

// SetMirror registers fn to receive every log record synchronously, e.g. to
// echo logs on the console.
func (b *Bus) SetMirror(fn func(LogData)) {
	b.mu.Lock()
	b.mirror = fn
	b.mu.Unlock()
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

// Subscribe returns a channel receiving messages of the given types, or all
// messages when no type is given. Slow subscribers drop messages.
func (b *Bus) Subscribe(buffer int, types ...string) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := subscriber{}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch, sub := range b.subs {
		if !sub.wants(typ) {
			continue
		}
		select {
		case ch <- msg:
		default:
		}
	}
	mirror := b.mirror
	b.mu.Unlock()

	if mirror != nil {
		if ld, ok := data.(LogData); ok {
			mirror(ld)
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish(TypeLog, LogData{Level: level, Msg: message, Fields: fields})
}
