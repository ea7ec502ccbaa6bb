// Package transport implements the broker connections writers publish to.
//
// Every variant is a driver wrapped by Connection, which owns the connection
// state machine and the reconnect loop. Drivers never reconnect on their own.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// driver is one middleware client. dial must call lost at most once per
// successful dial when the established session breaks.
type driver interface {
	dial(ctx context.Context, lost func(error)) error
	publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error
	close(ctx context.Context) error
}

type Settings struct {
	ConnectTimeout  time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	ReconnectBudget time.Duration
}

func (s *Settings) ApplyDefaults() {
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 10 * time.Second
	}
	if s.ReconnectMin <= 0 {
		s.ReconnectMin = 500 * time.Millisecond
	}
	if s.ReconnectMax <= 0 {
		s.ReconnectMax = 30 * time.Second
	}
	if s.ReconnectMax < s.ReconnectMin {
		s.ReconnectMax = s.ReconnectMin
	}
	if s.ReconnectBudget <= 0 {
		s.ReconnectBudget = 5 * time.Minute
	}
}

// Connection supervises a driver: it tracks state, rejects sends while not
// connected and reconnects with exponential backoff after a loss.
type Connection struct {
	name     string
	drv      driver
	qos      map[domain.QoS]bool
	settings Settings
	clock    clock.Clock
	logger   *slog.Logger
	events   ports.EventSink

	state    atomic.Int32
	failures atomic.Int64

	mu              sync.Mutex
	current         *session
	cancelReconnect context.CancelFunc
	reconnectDone   chan struct{}
}

// session is one successful dial. A loss reported before the session is
// adopted is recorded on it instead of being dropped. Guarded by
// Connection.mu.
type session struct {
	lost bool
	err  error
}

func newConnection(name string, drv driver, qos []domain.QoS, s Settings, clk clock.Clock, logger *slog.Logger, events ports.EventSink) *Connection {
	s.ApplyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = func(domain.Event) {}
	}
	supported := make(map[domain.QoS]bool, len(qos))
	for _, q := range qos {
		supported[q] = true
	}
	return &Connection{
		name:     name,
		drv:      drv,
		qos:      supported,
		settings: s,
		clock:    clk,
		logger:   logger.With("connection", name),
		events:   events,
	}
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

func (c *Connection) setState(s domain.ConnectionState) { c.state.Store(int32(s)) }

func (c *Connection) ConsecutiveFailures() int { return int(c.failures.Load()) }

func (c *Connection) emit(kind domain.EventKind, err error) {
	c.events(domain.Event{Kind: kind, Connection: c.name, Time: c.clock.Now(), Err: err})
}

// Connect dials once. When the dial fails the reconnect loop takes over and
// the error is returned; the connection becomes usable as soon as a later
// attempt succeeds. Connect on a connection that is already up, or already
// trying to come up, is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.State() != domain.StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setState(domain.StateConnecting)
	c.mu.Unlock()

	s, err := c.dial(ctx)

	c.mu.Lock()
	if err == nil && s.lost {
		err = fmt.Errorf("session lost while connecting: %w", s.err)
		c.mu.Unlock()
		c.discard()
		c.mu.Lock()
	}
	if c.State() != domain.StateConnecting {
		// Disconnect won the race.
		c.mu.Unlock()
		if err == nil {
			c.discard()
		}
		return fmt.Errorf("connect %s: %w", c.name, domain.ErrNotConnected)
	}
	if err == nil {
		c.current = s
		c.failures.Store(0)
		c.setState(domain.StateConnected)
		c.mu.Unlock()
		c.emit(domain.EventConnected, nil)
		return nil
	}

	c.setState(domain.StateReconnecting)
	c.startReconnectLocked()
	c.mu.Unlock()
	c.logger.Warn("initial connect failed, retrying in background", "err", err)
	return fmt.Errorf("connect %s: %w", c.name, err)
}

// dial runs one driver dial without holding c.mu, so drivers may report a
// loss from inside dial.
func (c *Connection) dial(ctx context.Context) (*session, error) {
	s := &session{}
	dctx, cancel := context.WithTimeout(ctx, c.settings.ConnectTimeout)
	defer cancel()
	err := c.drv.dial(dctx, func(err error) { c.lost(s, err) })
	return s, err
}

// discard closes a session that was never adopted.
func (c *Connection) discard() {
	ctx, cancel := context.WithTimeout(context.Background(), c.settings.ConnectTimeout)
	defer cancel()
	_ = c.drv.close(ctx)
}

// lost is handed to the driver for session s and may be called from any
// goroutine, including from inside dial.
func (c *Connection) lost(s *session, err error) {
	c.mu.Lock()
	if c.current != s {
		s.lost, s.err = true, err
		c.mu.Unlock()
		return
	}
	c.current = nil
	if c.State() != domain.StateConnected {
		c.mu.Unlock()
		return
	}
	c.setState(domain.StateReconnecting)
	c.startReconnectLocked()
	c.mu.Unlock()
	c.logger.Warn("connection lost", "err", err)
	c.emit(domain.EventConnectionLost, err)
}

func (c *Connection) startReconnectLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancelReconnect = cancel
	c.reconnectDone = done
	go c.reconnectLoop(ctx, done)
}

func (c *Connection) newBackOff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.settings.ReconnectMin),
		backoff.WithMaxInterval(c.settings.ReconnectMax),
		backoff.WithMaxElapsedTime(c.settings.ReconnectBudget),
		backoff.WithRandomizationFactor(0.2),
		backoff.WithClockProvider(c.clock),
	)
}

// reconnectLoop retries until a dial succeeds or ctx is cancelled. After the
// budget is used up it reports once and keeps trying at the maximum interval.
func (c *Connection) reconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := c.newBackOff()
	exhausted := false
	attempt := 0
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if !exhausted {
				exhausted = true
				c.logger.Warn("reconnect budget exhausted, publishing paused", "budget", c.settings.ReconnectBudget)
				c.emit(domain.EventReconnectExhausted, domain.ErrReconnectExhausted)
			}
			wait = c.settings.ReconnectMax
		}

		t := c.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		attempt++
		s, err := c.dial(ctx)
		if err != nil {
			c.logger.Debug("reconnect attempt failed", "attempt", attempt, "err", err)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			c.discard()
			return
		}
		if s.lost {
			c.mu.Unlock()
			c.discard()
			c.logger.Debug("session lost before it was adopted", "attempt", attempt, "err", s.err)
			continue
		}
		c.current = s
		c.cancelReconnect = nil
		c.reconnectDone = nil
		c.setState(domain.StateConnected)
		c.mu.Unlock()

		c.logger.Info("reconnected", "attempts", attempt)
		c.emit(domain.EventReconnected, nil)
		return
	}
}

// Disconnect stops any reconnect loop and closes the driver. It is safe to
// call more than once.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.State() == domain.StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancelReconnect, c.reconnectDone
	c.cancelReconnect, c.reconnectDone = nil, nil
	c.current = nil
	if cancel != nil {
		cancel()
	}
	c.setState(domain.StateDisconnected)
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.drv.close(ctx); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.name, err)
	}
	return nil
}

// Send publishes one message without retrying. Every failure, including a
// rejected delivery guarantee, increments the consecutive failure count.
func (c *Connection) Send(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	switch c.State() {
	case domain.StateConnected:
	case domain.StateConnecting, domain.StateReconnecting:
		c.failures.Add(1)
		return fmt.Errorf("%s: %w", c.name, domain.ErrTransportUnavailable)
	default:
		c.failures.Add(1)
		return fmt.Errorf("%s: %w", c.name, domain.ErrNotConnected)
	}
	if !c.qos[qos] {
		c.failures.Add(1)
		return fmt.Errorf("%s: %w: %s", c.name, domain.ErrUnsupportedQoS, qos)
	}
	if err := c.drv.publish(ctx, topic, payload, qos); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("%s: %w: %w", c.name, domain.ErrSendFailed, err)
	}
	c.failures.Store(0)
	return nil
}

var _ ports.Transport = (*Connection)(nil)
