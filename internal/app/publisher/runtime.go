package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Options carries the collaborators shared by every writer group.
type Options struct {
	Clock         clock.Clock
	Observability ports.Observability
	Encoder       ports.Encoder
	Policy        ports.Policy
	// NewQueue builds the tick queue of writers in groups using BusyQueue.
	NewQueue func(depth int) ports.TickQueue
	// OnEvent observes connection and group lifecycle events. It must not
	// block.
	OnEvent ports.EventSink
}

func (o *Options) validate() error {
	switch {
	case o.Observability == nil:
		return errors.New("publisher: observability is required")
	case o.Encoder == nil:
		return errors.New("publisher: encoder is required")
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	o.Policy.ApplyDefaults()
	return nil
}

// ConnectionStats reports the health of one connection.
type ConnectionStats struct {
	Name                string
	State               domain.ConnectionState
	ConsecutiveFailures int
}

// Stats is a snapshot of the running configuration.
type Stats struct {
	Connections []ConnectionStats
	Writers     []WriterStats
}

// Runtime owns every transport and scheduler started by Install.
type Runtime struct {
	opts       Options
	transports map[string]ports.Transport
	order      []string
	groups     []*GroupScheduler
	writers    []*dataSetWriter

	stopOnce sync.Once
	stopErr  error
}

// Install validates cfg, opens one transport per enabled connection and
// starts every enabled writer group. Configuration problems abort before
// anything starts. Groups that cannot be activated are reported in an
// *domain.ActivationError while the rest keep running.
func Install(ctx context.Context, cfg *domain.Configuration, space ports.AddressSpace, factory ports.TransportFactory, opts Options) (*Runtime, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var checks []error
	for i, conn := range cfg.Connections {
		if !conn.Enabled {
			continue
		}
		if err := factory.Check(conn); err != nil {
			checks = append(checks, fmt.Errorf("connections[%d]: %w", i, err))
		}
	}
	if err := errors.Join(checks...); err != nil {
		return nil, err
	}

	rt := &Runtime{opts: opts, transports: make(map[string]ports.Transport)}
	failed := make(map[string]error)

	for _, conn := range cfg.Connections {
		if !conn.Enabled {
			continue
		}
		tr, err := factory.Open(conn, rt.onEvent)
		if err != nil {
			for _, g := range conn.WriterGroups {
				if g.Enabled {
					failed[domain.GroupKey(conn.Name, g.Name)] = err
				}
			}
			continue
		}
		rt.transports[conn.Name] = tr
		rt.order = append(rt.order, conn.Name)
	}

	var eg errgroup.Group
	for _, name := range rt.order {
		tr := rt.transports[name]
		eg.Go(func() error {
			if err := tr.Connect(ctx); err != nil {
				opts.Observability.LogWarn("connection_initial_connect_failed", err, ports.Field{Key: "connection", Value: tr.Name()})
			}
			return nil
		})
	}
	_ = eg.Wait()

	for ci := range cfg.Connections {
		conn := &cfg.Connections[ci]
		tr, ok := rt.transports[conn.Name]
		if !conn.Enabled || !ok {
			continue
		}
		for gi := range conn.WriterGroups {
			group := &conn.WriterGroups[gi]
			if !group.Enabled {
				continue
			}
			key := domain.GroupKey(conn.Name, group.Name)
			sched, err := rt.activate(ctx, cfg, space, *conn, group, tr)
			if err != nil {
				failed[key] = err
				opts.Observability.LogError("writer_group_activation_failed", err, ports.Field{Key: "group", Value: key})
				continue
			}
			rt.groups = append(rt.groups, sched)
		}
	}

	if len(failed) > 0 {
		return rt, &domain.ActivationError{Failed: failed}
	}
	return rt, nil
}

func (rt *Runtime) activate(ctx context.Context, cfg *domain.Configuration, space ports.AddressSpace, conn domain.Connection,
	group *domain.WriterGroup, tr ports.Transport) (*GroupScheduler, error) {
	sampler := NewSampler(space)
	asm := NewAssembler(sampler, rt.opts.Clock, rt.opts.Observability)
	var writers []*dataSetWriter
	for _, wcfg := range group.Writers {
		if !wcfg.Enabled {
			continue
		}
		ds, ok := cfg.DataSet(wcfg.DataSetName)
		if !ok {
			return nil, domain.ConfigErrorf(wcfg.Name+".dataset", "unknown published dataset %q", wcfg.DataSetName)
		}
		if err := sampler.Bind(ctx, ds.Fields); err != nil {
			return nil, fmt.Errorf("writer %s: %w", wcfg.Name, err)
		}
		bound := *ds
		if bound.MetaDataVersion.IsZero() {
			bound.MetaDataVersion = domain.DeriveMetaDataVersion(bound.Fields)
		}
		var ticks ports.TickQueue
		if group.BusyPolicy == domain.BusyQueue {
			if rt.opts.NewQueue == nil {
				return nil, errors.New("busy policy queue needs a tick queue constructor")
			}
			ticks = rt.opts.NewQueue(group.QueueDepth)
		}
		writers = append(writers, newDataSetWriter(wcfg, group, conn, &bound, asm, rt.opts.Encoder, tr, ticks,
			rt.opts.Observability, rt.opts.Clock, rt.opts.Policy))
	}
	sched := newGroupScheduler(conn.Name, group, writers, rt.opts.Clock, rt.opts.Observability, rt.opts.Policy.ShutdownGrace, rt.onEvent)
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	rt.writers = append(rt.writers, writers...)
	return sched, nil
}

func (rt *Runtime) onEvent(ev domain.Event) {
	obs := rt.opts.Observability
	switch ev.Kind {
	case domain.EventConnected, domain.EventReconnected:
		obs.SetGauge(ports.MetricConnected, 1, ev.Connection)
		obs.LogInfo("connection_up", ports.Field{Key: "connection", Value: ev.Connection}, ports.Field{Key: "event", Value: ev.Kind.String()})
	case domain.EventConnectionLost:
		obs.SetGauge(ports.MetricConnected, 0, ev.Connection)
		obs.LogWarn("connection_lost", ev.Err, ports.Field{Key: "connection", Value: ev.Connection})
	case domain.EventReconnectExhausted:
		obs.IncCounter(ports.MetricReconnectExhausted, 1, ev.Connection)
		obs.LogError("connection_reconnect_exhausted", ev.Err, ports.Field{Key: "connection", Value: ev.Connection})
	}
	if rt.opts.OnEvent != nil {
		rt.opts.OnEvent(ev)
	}
}

// Stop halts every writer group in parallel and then disconnects the
// transports. Later calls return the first result.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.stopOnce.Do(func() {
		errs := make([]error, len(rt.groups))
		var eg errgroup.Group
		for i, g := range rt.groups {
			eg.Go(func() error {
				if err := g.Stop(ctx); err != nil {
					errs[i] = fmt.Errorf("stop %s: %w", g.key, err)
				}
				return nil
			})
		}
		_ = eg.Wait()
		for _, name := range rt.order {
			if err := rt.transports[name].Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", name, err))
			}
		}
		rt.stopErr = errors.Join(errs...)
	})
	return rt.stopErr
}

// Transport returns the transport opened for the named connection.
func (rt *Runtime) Transport(name string) (ports.Transport, bool) {
	tr, ok := rt.transports[name]
	return tr, ok
}

func (rt *Runtime) Stats() Stats {
	var s Stats
	for _, name := range rt.order {
		tr := rt.transports[name]
		s.Connections = append(s.Connections, ConnectionStats{
			Name:                name,
			State:               tr.State(),
			ConsecutiveFailures: tr.ConsecutiveFailures(),
		})
	}
	for _, w := range rt.writers {
		s.Writers = append(s.Writers, w.stats())
	}
	sort.SliceStable(s.Writers, func(i, j int) bool {
		if s.Writers[i].Connection != s.Writers[j].Connection {
			return s.Writers[i].Connection < s.Writers[j].Connection
		}
		return s.Writers[i].Group < s.Writers[j].Group
	})
	return s
}
