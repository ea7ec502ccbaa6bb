package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// ErrChannelTransportClosed is returned when a channel transport is written
// to after being closed.
var ErrChannelTransportClosed = errors.New("pubsub: channel transport closed")

// Message is one encoded network message handed to a callback or channel
// transport.
type Message struct {
	Connection string
	Topic      string
	Payload    []byte
	QoS        QoS
}

// MessageHandler receives published messages. A returned error counts as a
// failed send.
type MessageHandler func(Message) error

// NewCallbackTransports returns a TransportFactory that delivers every
// connection's messages to fn, whatever its transport profile. It is meant
// for embedding the publisher in programs that forward messages themselves.
func NewCallbackTransports(fn MessageHandler) TransportFactory {
	return &handlerFactory{
		name: "callback",
		deliver: func(_ context.Context, m Message) error {
			if fn == nil {
				return fmt.Errorf("callback transport: nil handler")
			}
			return fn(m)
		},
	}
}

// NewChannelTransports exposes published messages on a channel. It returns
// the factory, the read-only channel and a close function the caller should
// invoke during shutdown. Sends block until the message is received or the
// send timeout expires.
func NewChannelTransports(buffer int) (TransportFactory, <-chan Message, func()) {
	if buffer < 0 {
		buffer = 0
	}
	c := &channelSink{ch: make(chan Message, buffer), closed: make(chan struct{})}
	return &handlerFactory{name: "channel", deliver: c.send}, c.ch, c.close
}

type channelSink struct {
	mu     sync.RWMutex
	ch     chan Message
	closed chan struct{}
	once   sync.Once
}

func (c *channelSink) send(ctx context.Context, m Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.closed:
		return ErrChannelTransportClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrChannelTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.ch <- m:
		return nil
	}
}

func (c *channelSink) close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
}

type handlerFactory struct {
	name    string
	deliver func(context.Context, Message) error
}

func (f *handlerFactory) Check(domain.Connection) error { return nil }

func (f *handlerFactory) Open(conn domain.Connection, events ports.EventSink) (ports.Transport, error) {
	if events == nil {
		events = func(domain.Event) {}
	}
	return &handlerTransport{name: conn.Name, deliver: f.deliver, events: events}, nil
}

// handlerTransport has no session to lose: it is connected between Connect
// and Disconnect.
type handlerTransport struct {
	name     string
	deliver  func(context.Context, Message) error
	events   ports.EventSink
	state    atomic.Int32
	failures atomic.Int64
}

func (t *handlerTransport) Name() string { return t.name }

func (t *handlerTransport) State() domain.ConnectionState {
	return domain.ConnectionState(t.state.Load())
}

func (t *handlerTransport) ConsecutiveFailures() int { return int(t.failures.Load()) }

func (t *handlerTransport) Connect(context.Context) error {
	if t.state.Swap(int32(domain.StateConnected)) != int32(domain.StateConnected) {
		t.events(domain.Event{Kind: domain.EventConnected, Connection: t.name, Time: time.Now()})
	}
	return nil
}

func (t *handlerTransport) Disconnect(context.Context) error {
	t.state.Store(int32(domain.StateDisconnected))
	return nil
}

func (t *handlerTransport) Send(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	if t.State() != domain.StateConnected {
		t.failures.Add(1)
		return fmt.Errorf("%w: %s", domain.ErrNotConnected, t.name)
	}
	m := Message{Connection: t.name, Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos}
	if err := t.deliver(ctx, m); err != nil {
		t.failures.Add(1)
		return fmt.Errorf("%w: %s: %w", domain.ErrSendFailed, t.name, err)
	}
	t.failures.Store(0)
	return nil
}

var (
	_ ports.TransportFactory = (*handlerFactory)(nil)
	_ ports.Transport        = (*handlerTransport)(nil)
)
