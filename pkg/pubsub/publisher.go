package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/addressspace"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/encoding/jsonmsg"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/observability"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/queue"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/transport"
	"github.com/industry40tv/opc-ua-pub-sub/internal/app/publisher"
	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Option customizes the dependencies used by Install and NewRuntime.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	obs       Observability
	registry  prometheus.Registerer
	clock     clock.Clock
	onEvent   EventHandler
	policy    Policy
	encoder   Encoder
	factory   TransportFactory
	space     AddressSpace
	noMetrics bool
}

// WithLogger sets the structured logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObservability replaces the Prometheus backed observability stack.
func WithObservability(obs Observability) Option {
	return func(o *options) { o.obs = obs }
}

// WithRegisterer registers the publisher metrics with reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock drives scheduling, keep-alives and reconnect timers from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithEventHandler observes connection and writer group lifecycle events.
// The handler must not block.
func WithEventHandler(fn EventHandler) Option {
	return func(o *options) { o.onEvent = fn }
}

// WithPolicy overrides every runtime bound at once. Zero fields keep their
// defaults.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) { o.policy.ShutdownGrace = d }
}

func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.policy.SendTimeout = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.policy.ConnectTimeout = d }
}

// WithEncoder replaces the JSON message mapping.
func WithEncoder(enc Encoder) Option {
	return func(o *options) { o.encoder = enc }
}

// WithTransportFactory replaces the built-in transport profiles, for
// instance with NewCallbackTransports or NewChannelTransports.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithAddressSpace makes NewRuntime sample space instead of the source
// configured in the file.
func WithAddressSpace(space AddressSpace) Option {
	return func(o *options) { o.space = space }
}

// WithoutMetricsServer keeps NewRuntime from serving /metrics and /healthz.
func WithoutMetricsServer() Option {
	return func(o *options) { o.noMetrics = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.obs == nil {
		reg := o.registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		o.obs = observability.NewPromObs(reg, o.logger)
	}
	if o.encoder == nil {
		o.encoder = jsonmsg.NewEncoder()
	}
	o.policy.ApplyDefaults()
	if o.factory == nil {
		o.factory = transport.NewFactory(
			transport.WithClock(o.clock),
			transport.WithLogger(o.logger),
			transport.WithSettings(transport.Settings{ConnectTimeout: o.policy.ConnectTimeout}),
		)
	}
	return o
}

// Publisher is an installed PubSub configuration.
type Publisher struct {
	rt *publisher.Runtime
}

// Install validates cfg and starts publishing every enabled writer group,
// sampling fields from space.
//
// Configuration problems return a nil Publisher and an error for which
// IsConfiguration is true. When only some writer groups fail to activate the
// Publisher is returned together with an *ActivationError and the other
// groups keep publishing; Stop must still be called.
func Install(ctx context.Context, cfg *Configuration, space AddressSpace, opts ...Option) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if space == nil {
		return nil, fmt.Errorf("address space is required")
	}
	o := buildOptions(opts)
	rt, err := publisher.Install(ctx, cfg, space, o.factory, publisher.Options{
		Clock:         o.clock,
		Observability: o.obs,
		Encoder:       o.encoder,
		Policy:        o.policy,
		NewQueue:      func(depth int) ports.TickQueue { return queue.NewTickQueue(depth) },
		OnEvent:       o.onEvent,
	})
	if rt == nil {
		return nil, err
	}
	return &Publisher{rt: rt}, err
}

// Stop halts every writer group and disconnects all transports. It is safe
// to call more than once.
func (p *Publisher) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.rt.Stop(ctx)
}

func (p *Publisher) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return p.rt.Stats()
}

// Healthy reports whether every connection is connected.
func (p *Publisher) Healthy() bool {
	for _, c := range p.Stats().Connections {
		if c.State != domain.StateConnected {
			return false
		}
	}
	return true
}

// MemoryAddressSpace is an in-process address space whose variables are
// written by the embedding program.
type MemoryAddressSpace = addressspace.Memory

// NewMemoryAddressSpace creates an empty in-process address space. A nil
// clock uses the wall clock.
func NewMemoryAddressSpace(clk clock.Clock) *MemoryAddressSpace {
	return addressspace.NewMemory(clk)
}
