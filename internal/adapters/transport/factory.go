package transport

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

const (
	ProfileMQTTJSON   = "http://opcfoundation.org/UA-Profile/Transport/pubsub-mqtt-json"
	ProfileNATSJSON   = "urn:industry40tv:pubsub:nats-json"
	ProfileOutboxJSON = "urn:industry40tv:pubsub:outbox-json"
	ProfileMemoryJSON = "urn:industry40tv:pubsub:memory-json"
)

type Kind string

const (
	KindMQTT   Kind = "mqtt"
	KindNATS   Kind = "nats"
	KindOutbox Kind = "outbox"
	KindMemory Kind = "memory"
)

var allQoS = []domain.QoS{domain.AtMostOnce, domain.AtLeastOnce, domain.ExactlyOnce}

type profile struct {
	kind Kind
	// qos lists the delivery guarantees available with the given options.
	qos       func(domain.TransportOptions) []domain.QoS
	address   func(string) (string, error)
	newDriver func(f *Factory, conn domain.Connection, addr string) driver
}

// profiles is the complete profile URI to variant table.
var profiles = map[string]profile{
	ProfileMQTTJSON: {
		kind:    KindMQTT,
		qos:     func(domain.TransportOptions) []domain.QoS { return allQoS },
		address: mqttBrokerURL,
		newDriver: func(_ *Factory, conn domain.Connection, addr string) driver {
			return newMQTTDriver(addr, conn.Options)
		},
	},
	ProfileNATSJSON: {
		kind: KindNATS,
		qos: func(o domain.TransportOptions) []domain.QoS {
			if o.JetStream {
				return allQoS
			}
			return []domain.QoS{domain.AtMostOnce}
		},
		address: natsServerURL,
		newDriver: func(_ *Factory, conn domain.Connection, addr string) driver {
			return newNATSDriver(addr, conn.Name, conn.Options)
		},
	},
	ProfileOutboxJSON: {
		kind: KindOutbox,
		qos: func(domain.TransportOptions) []domain.QoS {
			return []domain.QoS{domain.AtLeastOnce, domain.ExactlyOnce}
		},
		address: postgresDSN,
		newDriver: func(f *Factory, conn domain.Connection, addr string) driver {
			return newOutboxDriver(addr, outboxTable(conn.Options), f.sharedDB(conn.Address))
		},
	},
	ProfileMemoryJSON: {
		kind: KindMemory,
		qos:  func(domain.TransportOptions) []domain.QoS { return allQoS },
		address: func(a string) (string, error) {
			if a == "" {
				return "", fmt.Errorf("empty memory broker name")
			}
			return a, nil
		},
		newDriver: func(f *Factory, conn domain.Connection, addr string) driver {
			return &memoryDriver{broker: f.Broker(addr)}
		},
	},
}

func outboxTable(o domain.TransportOptions) string {
	if o.OutboxTable == "" {
		return "pubsub_outbox"
	}
	return o.OutboxTable
}

// ProfileInfo describes one supported transport profile.
type ProfileInfo struct {
	URI  string
	Kind Kind
	QoS  []domain.QoS
}

// Profiles lists the supported transport profiles sorted by URI. QoS is the
// widest set a profile offers with all options enabled.
func Profiles() []ProfileInfo {
	out := make([]ProfileInfo, 0, len(profiles))
	for uri, p := range profiles {
		out = append(out, ProfileInfo{URI: uri, Kind: p.kind, QoS: p.qos(domain.TransportOptions{JetStream: true})})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Factory opens connections for the profiles in the table above.
type Factory struct {
	clock    clock.Clock
	logger   *slog.Logger
	settings Settings

	mu      sync.Mutex
	brokers map[string]*Broker
	dbs     map[string]*sql.DB
}

type FactoryOption func(*Factory)

func WithClock(c clock.Clock) FactoryOption { return func(f *Factory) { f.clock = c } }

func WithLogger(l *slog.Logger) FactoryOption { return func(f *Factory) { f.logger = l } }

// WithSettings sets the defaults used when a connection does not configure
// its own reconnect bounds.
func WithSettings(s Settings) FactoryOption { return func(f *Factory) { f.settings = s } }

// WithBroker binds an in-process broker to a memory profile address.
func WithBroker(address string, b *Broker) FactoryOption {
	return func(f *Factory) { f.brokers[address] = b }
}

// WithDB makes outbox connections with the given address use db instead of
// opening their own handle.
func WithDB(address string, db *sql.DB) FactoryOption {
	return func(f *Factory) { f.dbs[address] = db }
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		brokers: make(map[string]*Broker),
		dbs:     make(map[string]*sql.DB),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.clock == nil {
		f.clock = clock.New()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.settings.ApplyDefaults()
	return f
}

// Broker returns the in-process broker for address, creating it on first use.
func (f *Factory) Broker(address string) *Broker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.brokers[address]
	if !ok {
		b = NewBroker()
		f.brokers[address] = b
	}
	return b
}

func (f *Factory) sharedDB(address string) *sql.DB {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dbs[address]
}

// Check validates a connection against the profile table: the profile must be
// known, the address well formed and every writer's delivery guarantee
// available. Failures are configuration errors.
func (f *Factory) Check(conn domain.Connection) error {
	base := "connection " + conn.Name
	p, ok := profiles[conn.TransportProfileURI]
	if !ok {
		return domain.ConfigErrorf(base+".transport_profile_uri", "unknown transport profile %q", conn.TransportProfileURI)
	}
	if _, err := p.address(conn.Address); err != nil {
		return &domain.ConfigError{Path: base + ".address", Err: err}
	}
	if p.kind == KindOutbox && !tableNameRE.MatchString(outboxTable(conn.Options)) {
		return domain.ConfigErrorf(base+".outbox_table", "invalid table name %q", conn.Options.OutboxTable)
	}
	supported := map[domain.QoS]bool{}
	for _, q := range p.qos(conn.Options) {
		supported[q] = true
	}
	for _, g := range conn.WriterGroups {
		for _, w := range g.Writers {
			if !supported[w.QoS] {
				return &domain.ConfigError{
					Path: fmt.Sprintf("%s.writer_groups.%s.writers.%s.qos", base, g.Name, w.Name),
					Err:  fmt.Errorf("%w: %s over %s", domain.ErrUnsupportedQoS, w.QoS, p.kind),
				}
			}
		}
	}
	return nil
}

// Open creates the connection without dialing.
func (f *Factory) Open(conn domain.Connection, events ports.EventSink) (ports.Transport, error) {
	if err := f.Check(conn); err != nil {
		return nil, err
	}
	p := profiles[conn.TransportProfileURI]
	addr, _ := p.address(conn.Address)

	s := f.settings
	if conn.Options.ReconnectMin > 0 {
		s.ReconnectMin = conn.Options.ReconnectMin
	}
	if conn.Options.ReconnectMax > 0 {
		s.ReconnectMax = conn.Options.ReconnectMax
	}
	if conn.Options.ReconnectBudget > 0 {
		s.ReconnectBudget = conn.Options.ReconnectBudget
	}
	drv := p.newDriver(f, conn, addr)
	return newConnection(conn.Name, drv, p.qos(conn.Options), s, f.clock, f.logger, events), nil
}

var _ ports.TransportFactory = (*Factory)(nil)
