package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/addressspace"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/opcua"
	"github.com/industry40tv/opc-ua-pub-sub/internal/app/config"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Runtime runs a configuration file end to end: it opens the configured
// source, installs the PubSub configuration and serves metrics.
type Runtime struct {
	cfg  *Config
	opts options

	space  AddressSpace
	sim    *addressspace.Simulator
	remote *opcua.AddressSpace

	mu         sync.Mutex
	pub        *Publisher
	metricsSrv *http.Server
	metricsLn  net.Listener
	cancel     context.CancelFunc
	simDone    chan struct{}
}

// NewRuntime prepares the source named by cfg without connecting anything.
// Options override any dependency, including the address space.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	o := buildOptions(append([]Option{WithPolicy(cfg.Policy.Ports())}, opts...))
	r := &Runtime{cfg: cfg, opts: o, space: o.space}
	if r.space != nil {
		return r, nil
	}

	switch cfg.Source.Kind {
	case config.SourceOPCUA:
		remote, err := opcua.New(cfg.Source.OPCUA)
		if err != nil {
			return nil, err
		}
		r.remote, r.space = remote, remote
	default:
		signals, err := cfg.Signals()
		if err != nil {
			return nil, err
		}
		mem := addressspace.NewMemory(o.clock)
		sim, err := addressspace.NewSimulator(mem, o.clock, cfg.Source.Simulation.UpdateInterval.D(), cfg.Source.Simulation.Seed, signals)
		if err != nil {
			return nil, err
		}
		r.sim, r.space = sim, mem
	}
	return r, nil
}

// Start connects the source, installs the configuration and starts the
// metrics server. A partial activation is logged and returned, but the
// runtime keeps running the groups that started.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil {
		return nil
	}
	for _, w := range r.cfg.Warnings {
		r.opts.obs.LogWarn("config_setting_ignored", errors.New(w))
	}

	ps, err := r.cfg.PubSub()
	if err != nil {
		return err
	}

	if r.remote != nil {
		if err := r.remote.Connect(ctx); err != nil {
			return err
		}
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	if r.sim != nil {
		r.simDone = make(chan struct{})
		go func() {
			defer close(r.simDone)
			r.sim.Run(bg)
		}()
	}

	pub, err := Install(ctx, ps, r.space, r.opts.asOptions()...)
	if pub == nil {
		cancel()
		r.closeSource(ctx)
		return err
	}
	r.pub = pub
	if err != nil {
		r.opts.obs.LogError("partial_activation", err)
	}

	if !r.opts.noMetrics {
		if serr := r.startMetrics(); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// within the configured grace period.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil && r.Publisher() == nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.policy.ShutdownGrace+time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops publishing, the metrics server and the source.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.pub != nil {
		if err := r.pub.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	if err := r.closeSource(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeSource(ctx context.Context) error {
	if r.simDone != nil {
		<-r.simDone
		r.simDone = nil
	}
	if r.remote != nil {
		return r.remote.Close(ctx)
	}
	return nil
}

// Publisher returns the installed publisher once Start succeeded.
func (r *Runtime) Publisher() *Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub
}

// AddressSpace returns the source being sampled.
func (r *Runtime) AddressSpace() AddressSpace { return r.space }

// MetricsAddr returns the address the metrics server listens on, or "" when
// it is not running.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metricsLn == nil {
		return ""
	}
	return r.metricsLn.Addr().String()
}

func (r *Runtime) startMetrics() error {
	addr := r.cfg.Metrics.Addr
	if addr == "" || addr == "off" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	if g, ok := r.opts.registry.(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !r.pub.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.pub.Stats())
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	r.metricsSrv, r.metricsLn = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.opts.obs.LogError("metrics_server_exited", err)
		}
	}()
	r.opts.obs.LogInfo("metrics_server_listening", ports.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// asOptions replays resolved options into Install.
func (o options) asOptions() []Option {
	return []Option{
		WithLogger(o.logger),
		WithObservability(o.obs),
		WithClock(o.clock),
		WithEventHandler(o.onEvent),
		WithPolicy(o.policy),
		WithEncoder(o.encoder),
		WithTransportFactory(o.factory),
	}
}
