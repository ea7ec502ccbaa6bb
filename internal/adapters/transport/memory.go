package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

var errSessionClosed = errors.New("memory session closed")

// Message is a publication delivered through a Broker.
type Message struct {
	Topic   string
	Payload []byte
	QoS     domain.QoS
}

// Broker is an in-process message broker. It records every message, fans
// them out to subscribers and can simulate failures.
type Broker struct {
	mu       sync.Mutex
	messages []Message
	subs     map[string][]func(Message)
	dialErr  error
	hook     func(ctx context.Context, m Message) error
	sessions map[*memoryDriver]func(error)
	seen     map[string]bool
}

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string][]func(Message)),
		sessions: make(map[*memoryDriver]func(error)),
		seen:     make(map[string]bool),
	}
}

// Subscribe registers fn for topic. The empty topic receives everything.
// Callbacks run on the publishing goroutine.
func (b *Broker) Subscribe(topic string, fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

// Messages returns a copy of the messages published to topic, or of all
// messages when topic is empty.
func (b *Broker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// FailDials makes every following dial fail with err until called with nil.
func (b *Broker) FailDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// SetPublishHook installs fn to run before a message is accepted. A non-nil
// error rejects the message. fn may block to simulate a slow broker.
func (b *Broker) SetPublishHook(fn func(ctx context.Context, m Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// DropConnections closes every session as if the network failed.
func (b *Broker) DropConnections(err error) {
	b.mu.Lock()
	lost := make([]func(error), 0, len(b.sessions))
	for d, fn := range b.sessions {
		lost = append(lost, fn)
		delete(b.sessions, d)
	}
	b.mu.Unlock()
	for _, fn := range lost {
		fn(err)
	}
}

// Sessions reports the number of open sessions.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

type memoryDriver struct {
	broker *Broker
}

func (d *memoryDriver) dial(ctx context.Context, lost func(error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	if d.broker.dialErr != nil {
		return d.broker.dialErr
	}
	d.broker.sessions[d] = lost
	return nil
}

func (d *memoryDriver) publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	b := d.broker
	b.mu.Lock()
	_, open := b.sessions[d]
	hook := b.hook
	b.mu.Unlock()
	if !open {
		return errSessionClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos}
	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if qos == domain.ExactlyOnce {
		id := dedupID(ctx, topic, payload)
		if b.seen[id] {
			b.mu.Unlock()
			return nil
		}
		b.seen[id] = true
	}
	b.messages = append(b.messages, msg)
	subs := append(append([]func(Message){}, b.subs[topic]...), b.subs[""]...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (d *memoryDriver) close(context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	delete(d.broker.sessions, d)
	return nil
}
