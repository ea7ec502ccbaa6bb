package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

var errNATSNotConnected = errors.New("nats connection not open")

type natsDriver struct {
	serverURL string
	name      string
	opts      domain.TransportOptions

	mu      sync.Mutex
	nc      *nats.Conn
	js      jetstream.JetStream
	closing *atomic.Bool
}

func newNATSDriver(serverURL, name string, opts domain.TransportOptions) *natsDriver {
	return &natsDriver{serverURL: serverURL, name: name, opts: opts}
}

func (d *natsDriver) dial(ctx context.Context, lost func(error)) error {
	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	closing := &atomic.Bool{}
	opts := []nats.Option{
		nats.Name(d.name),
		nats.Timeout(timeout),
		// reconnects are driven by Connection
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if closing.Load() {
				return
			}
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			lost(err)
		}),
	}
	if d.opts.Username != "" {
		opts = append(opts, nats.UserInfo(d.opts.Username, d.opts.Password))
	}

	nc, err := nats.Connect(d.serverURL, opts...)
	if err != nil {
		return err
	}
	var js jetstream.JetStream
	if d.opts.JetStream {
		if js, err = jetstream.New(nc); err != nil {
			closing.Store(true)
			nc.Close()
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		closing.Store(true)
		nc.Close()
		return err
	}

	d.mu.Lock()
	d.nc, d.js, d.closing = nc, js, closing
	d.mu.Unlock()
	return nil
}

func (d *natsDriver) publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	d.mu.Lock()
	nc, js := d.nc, d.js
	d.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return errNATSNotConnected
	}
	subject := natsSubject(topic)
	if qos != domain.AtMostOnce && js == nil {
		return domain.ErrUnsupportedQoS
	}
	switch qos {
	case domain.AtMostOnce:
		return nc.Publish(subject, payload)
	case domain.AtLeastOnce:
		_, err := js.Publish(ctx, subject, payload)
		return err
	default:
		_, err := js.Publish(ctx, subject, payload, jetstream.WithMsgID(dedupID(ctx, topic, payload)))
		return err
	}
}

func (d *natsDriver) close(ctx context.Context) error {
	d.mu.Lock()
	nc, closing := d.nc, d.closing
	d.nc, d.js, d.closing = nil, nil, nil
	d.mu.Unlock()
	if nc == nil {
		return nil
	}
	closing.Store(true)
	timeout := time.Second
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) > 0 {
		timeout = time.Until(dl)
	}
	err := nc.FlushTimeout(timeout)
	nc.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
