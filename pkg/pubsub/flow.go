package pubsub

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf -> StreamIN ->
// StreamOUT without touching the underlying hexagonal wiring.
type Flow struct {
	cfg  *Config
	opts []Option
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the sampling side: address space, clock and
// observability.
type StreamInOption func(*Flow)

// StreamOutOption configures the publishing side: transports, encoder and
// lifecycle events.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw Option values to the builder for advanced scenarios.
func (f *Flow) Options(opts ...Option) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records publishing-side overrides and builds a Runtime ready to run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends Option values during Conf.
func WithFlowOptions(opts ...Option) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInAddressSpace samples space instead of the configured source.
func StreamInAddressSpace(space AddressSpace) StreamInOption {
	return func(f *Flow) {
		if f != nil && space != nil {
			f.appendOptions(WithAddressSpace(space))
		}
	}
}

// StreamInObservability overrides the default Prometheus-based observability stack.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutTransports replaces the built-in transport profiles.
func StreamOutTransports(factory TransportFactory) StreamOutOption {
	return func(f *Flow) {
		if f != nil && factory != nil {
			f.appendOptions(WithTransportFactory(factory))
		}
	}
}

// StreamOutCallback delivers every published message to fn instead of a broker.
func StreamOutCallback(fn MessageHandler) StreamOutOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithTransportFactory(NewCallbackTransports(fn)))
		}
	}
}

func StreamOutEncoder(enc Encoder) StreamOutOption {
	return func(f *Flow) {
		if f != nil && enc != nil {
			f.appendOptions(WithEncoder(enc))
		}
	}
}

// StreamOutEvents observes connection and writer group lifecycle events.
func StreamOutEvents(fn EventHandler) StreamOutOption {
	return func(f *Flow) {
		if f != nil && fn != nil {
			f.appendOptions(WithEventHandler(fn))
		}
	}
}

func (f *Flow) appendOptions(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
