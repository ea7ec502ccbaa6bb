package ports

import (
	"context"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

// Transport is one connection to a message-oriented middleware.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// Send hands one encoded message to the middleware. It never retries.
	Send(ctx context.Context, topic string, payload []byte, qos domain.QoS) error
	State() domain.ConnectionState
	ConsecutiveFailures() int
}

// EventSink receives connection lifecycle events. It must not block.
type EventSink func(domain.Event)

// TransportFactory maps a connection's transport profile to a transport.
type TransportFactory interface {
	// Check validates the profile, address and requested delivery guarantees
	// without opening anything.
	Check(conn domain.Connection) error
	Open(conn domain.Connection, events EventSink) (Transport, error)
}

type messageIDKey struct{}

// WithMessageID attaches the identity of the message being sent. Transports
// that offer ExactlyOnce use it to discard duplicates.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

func MessageIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(messageIDKey{}).(string)
	return id, ok && id != ""
}
