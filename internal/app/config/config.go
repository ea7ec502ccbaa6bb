package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/addressspace"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/opcua"
	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

const (
	SourceSimulation = "simulation"
	SourceOPCUA      = "opcua"
)

type Config struct {
	Policy      PolicyConfig       `yaml:"policy"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Log         LogConfig          `yaml:"log"`
	Source      SourceConfig       `yaml:"source"`
	DataSets    []DataSetConfig    `yaml:"published_datasets"`
	Connections []ConnectionConfig `yaml:"connections"`

	// Warnings lists accepted but ignored settings found while parsing.
	Warnings []string `yaml:"-"`
}

type PolicyConfig struct {
	ShutdownGrace  Duration `yaml:"shutdown_grace"`
	SendTimeout    Duration `yaml:"send_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	LogEvery       Duration `yaml:"log_every"`
}

func (p PolicyConfig) Ports() ports.Policy {
	pol := ports.Policy{
		ShutdownGrace:  p.ShutdownGrace.D(),
		SendTimeout:    p.SendTimeout.D(),
		ConnectTimeout: p.ConnectTimeout.D(),
		LogEvery:       p.LogEvery.D(),
	}
	pol.ApplyDefaults()
	return pol
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SourceConfig struct {
	Kind       string           `yaml:"kind"`
	Simulation SimulationConfig `yaml:"simulation"`
	OPCUA      opcua.Config     `yaml:"opcua"`
}

type SimulationConfig struct {
	UpdateInterval Duration         `yaml:"update_interval"`
	Seed           int64            `yaml:"seed"`
	Variables      []VariableConfig `yaml:"variables"`
}

type VariableConfig struct {
	NodeID    string   `yaml:"node_id"`
	Type      string   `yaml:"type"`
	Signal    string   `yaml:"signal"`
	Offset    float64  `yaml:"offset"`
	Amplitude float64  `yaml:"amplitude"`
	Period    Duration `yaml:"period"`
	Noise     float64  `yaml:"noise"`
}

type DataSetConfig struct {
	Name            string        `yaml:"name"`
	ClassID         string        `yaml:"class_id"`
	MetaDataVersion *VersionValue `yaml:"metadata_version"`
	Fields          []FieldConfig `yaml:"fields"`
}

type VersionValue struct {
	Major uint32 `yaml:"major"`
	Minor uint32 `yaml:"minor"`
}

type FieldConfig struct {
	Name                 string   `yaml:"name"`
	Type                 string   `yaml:"type"`
	Source               string   `yaml:"source"`
	SamplingIntervalHint Duration `yaml:"sampling_interval_hint"`
}

type ConnectionConfig struct {
	Name                string              `yaml:"name"`
	Enabled             *bool               `yaml:"enabled"`
	TransportProfileURI string              `yaml:"transport_profile_uri"`
	Address             string              `yaml:"address"`
	PublisherID         string              `yaml:"publisher_id"`
	Options             TransportConfig     `yaml:"options"`
	WriterGroups        []WriterGroupConfig `yaml:"writer_groups"`
	ReaderGroups        []yaml.Node         `yaml:"reader_groups"`
}

type TransportConfig struct {
	ClientID        string   `yaml:"client_id"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	JetStream       bool     `yaml:"jetstream"`
	OutboxTable     string   `yaml:"outbox_table"`
	KeepAlive       Duration `yaml:"keep_alive"`
	ReconnectMin    Duration `yaml:"reconnect_min"`
	ReconnectMax    Duration `yaml:"reconnect_max"`
	ReconnectBudget Duration `yaml:"reconnect_budget"`
}

type WriterGroupConfig struct {
	Name               string         `yaml:"name"`
	ID                 uint16         `yaml:"id"`
	Enabled            *bool          `yaml:"enabled"`
	PublishingInterval Duration       `yaml:"publishing_interval"`
	KeepAliveTime      Duration       `yaml:"keep_alive_time"`
	NetworkMask        Mask           `yaml:"network_message_content_mask"`
	QueueName          string         `yaml:"queue_name"`
	QoS                string         `yaml:"qos"`
	BusyPolicy         string         `yaml:"busy_policy"`
	QueueDepth         int            `yaml:"queue_depth"`
	Writers            []WriterConfig `yaml:"writers"`
}

type WriterConfig struct {
	Name              string `yaml:"name"`
	ID                uint16 `yaml:"id"`
	Enabled           *bool  `yaml:"enabled"`
	DataSet           string `yaml:"dataset"`
	Mask              Mask   `yaml:"dataset_message_content_mask"`
	FieldMask         Mask   `yaml:"dataset_field_content_mask"`
	QueueName         string `yaml:"queue_name"`
	MetaDataQueueName string `yaml:"metadata_queue_name"`
	QoS               string `yaml:"qos"`
	KeyFrameCount     uint32 `yaml:"key_frame_count"`
}

// Duration accepts Go duration strings ("1s", "250ms") and plain numbers,
// which are milliseconds as in OPC UA configuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	switch n.ShortTag() {
	case "!!int", "!!float":
		ms, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) D() time.Duration { return time.Duration(d) }

// Mask is a content mask given either as a list of flag names or as the
// numeric OPC UA bit mask.
type Mask struct {
	Names []string
	Bits  *uint32
}

func (m *Mask) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		return n.Decode(&m.Names)
	case yaml.ScalarNode:
		if n.ShortTag() == "!!int" {
			v, err := strconv.ParseUint(n.Value, 0, 32)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			bits := uint32(v)
			m.Bits = &bits
			return nil
		}
		for _, part := range strings.FieldsFunc(n.Value, func(r rune) bool { return r == '|' || r == ',' }) {
			if part = strings.TrimSpace(part); part != "" {
				m.Names = append(m.Names, part)
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: content mask must be a list or a number", n.Line)
	}
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates it. Unknown
// keys are rejected.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &domain.ConfigError{Err: err}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceSimulation
	}
	if c.Source.Simulation.UpdateInterval <= 0 {
		c.Source.Simulation.UpdateInterval = Duration(100 * time.Millisecond)
	}
	if c.Source.Kind == SourceOPCUA {
		c.Source.OPCUA.ApplyDefaults()
	}
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.PublisherID == "" {
			conn.PublisherID = conn.Name
		}
		for j := range conn.WriterGroups {
			g := &conn.WriterGroups[j]
			if g.ID == 0 {
				g.ID = uint16(j + 1)
			}
			if strings.EqualFold(g.BusyPolicy, "queue") && g.QueueDepth == 0 {
				g.QueueDepth = 4
			}
			for k := range g.Writers {
				w := &g.Writers[k]
				if w.QueueName == "" {
					w.QueueName = g.QueueName
				}
				if w.QoS == "" {
					w.QoS = g.QoS
				}
			}
		}
	}
	c.Warnings = c.Warnings[:0]
	for _, conn := range c.Connections {
		if len(conn.ReaderGroups) > 0 {
			c.Warnings = append(c.Warnings, fmt.Sprintf("connection %s: %d reader groups ignored", conn.Name, len(conn.ReaderGroups)))
		}
	}
}

// Validate checks the file level settings and then every invariant of the
// resulting PubSub configuration.
func (c *Config) Validate() error {
	var errs []error
	switch c.Source.Kind {
	case SourceSimulation:
		if _, err := c.Signals(); err != nil {
			errs = append(errs, err)
		}
	case SourceOPCUA:
		if err := c.Source.OPCUA.Validate(); err != nil {
			errs = append(errs, &domain.ConfigError{Path: "source.opcua", Err: err})
		}
	default:
		errs = append(errs, domain.ConfigErrorf("source.kind", "unknown source %q", c.Source.Kind))
	}
	if _, err := c.PubSub(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func enabled(b *bool) bool { return b == nil || *b }

// Signals converts the simulation section into generator definitions.
func (c *Config) Signals() ([]addressspace.Signal, error) {
	var (
		out  []addressspace.Signal
		errs []error
	)
	for i, v := range c.Source.Simulation.Variables {
		p := fmt.Sprintf("source.simulation.variables[%d]", i)
		if v.NodeID == "" {
			errs = append(errs, domain.ConfigErrorf(p+".node_id", "must not be empty"))
		}
		t, err := domain.ParseBuiltInType(v.Type)
		if err != nil {
			errs = append(errs, &domain.ConfigError{Path: p + ".type", Err: err})
		}
		kind, err := addressspace.ParseSignalKind(v.Signal)
		if err != nil {
			errs = append(errs, &domain.ConfigError{Path: p + ".signal", Err: err})
		}
		out = append(out, addressspace.Signal{
			NodeID:    v.NodeID,
			Type:      t,
			Kind:      kind,
			Offset:    v.Offset,
			Amplitude: v.Amplitude,
			Period:    v.Period.D(),
			Noise:     v.Noise,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// PubSub converts the document into a validated PubSub configuration.
func (c *Config) PubSub() (*domain.Configuration, error) {
	var (
		out  domain.Configuration
		errs []error
	)
	bad := func(path string, err error) {
		errs = append(errs, &domain.ConfigError{Path: path, Err: err})
	}

	for i, d := range c.DataSets {
		p := fmt.Sprintf("published_datasets[%d]", i)
		ds := domain.PublishedDataSet{Name: d.Name, ClassID: d.ClassID}
		if d.MetaDataVersion != nil {
			ds.MetaDataVersion = domain.MetaDataVersion{Major: d.MetaDataVersion.Major, Minor: d.MetaDataVersion.Minor}
		}
		for j, f := range d.Fields {
			t, err := domain.ParseBuiltInType(f.Type)
			if err != nil {
				bad(fmt.Sprintf("%s.fields[%d].type", p, j), err)
			}
			ds.Fields = append(ds.Fields, domain.FieldDefinition{
				Name:                 f.Name,
				BuiltInType:          t,
				Source:               f.Source,
				SamplingIntervalHint: f.SamplingIntervalHint.D(),
			})
		}
		if ds.MetaDataVersion.IsZero() && len(ds.Fields) > 0 {
			ds.MetaDataVersion = domain.DeriveMetaDataVersion(ds.Fields)
		}
		out.DataSets = append(out.DataSets, ds)
	}

	for i, cc := range c.Connections {
		p := fmt.Sprintf("connections[%d]", i)
		conn := domain.Connection{
			Name:                cc.Name,
			Enabled:             enabled(cc.Enabled),
			TransportProfileURI: cc.TransportProfileURI,
			Address:             cc.Address,
			PublisherID:         cc.PublisherID,
			Options: domain.TransportOptions{
				ClientID:        cc.Options.ClientID,
				Username:        cc.Options.Username,
				Password:        cc.Options.Password,
				JetStream:       cc.Options.JetStream,
				OutboxTable:     cc.Options.OutboxTable,
				KeepAlive:       cc.Options.KeepAlive.D(),
				ReconnectMin:    cc.Options.ReconnectMin.D(),
				ReconnectMax:    cc.Options.ReconnectMax.D(),
				ReconnectBudget: cc.Options.ReconnectBudget.D(),
			},
		}
		for j, gc := range cc.WriterGroups {
			gp := fmt.Sprintf("%s.writer_groups[%d]", p, j)
			g := domain.WriterGroup{
				Name:               gc.Name,
				ID:                 gc.ID,
				Enabled:            enabled(gc.Enabled),
				PublishingInterval: gc.PublishingInterval.D(),
				KeepAliveTime:      gc.KeepAliveTime.D(),
				QueueDepth:         gc.QueueDepth,
			}
			var err error
			if g.NetworkMask, err = networkMask(gc.NetworkMask); err != nil {
				bad(gp+".network_message_content_mask", err)
			}
			if g.BusyPolicy, err = domain.ParseBusyPolicy(gc.BusyPolicy); err != nil {
				bad(gp+".busy_policy", err)
			}
			for k, wc := range gc.Writers {
				wp := fmt.Sprintf("%s.writers[%d]", gp, k)
				w := domain.DataSetWriter{
					ID:                wc.ID,
					Name:              wc.Name,
					DataSetName:       wc.DataSet,
					Enabled:           enabled(wc.Enabled),
					QueueName:         wc.QueueName,
					MetaDataQueueName: wc.MetaDataQueueName,
					KeyFrameCount:     wc.KeyFrameCount,
				}
				if w.Mask, err = dataSetMask(wc.Mask); err != nil {
					bad(wp+".dataset_message_content_mask", err)
				}
				if w.FieldMask, err = fieldMask(wc.FieldMask); err != nil {
					bad(wp+".dataset_field_content_mask", err)
				}
				if w.QoS, err = domain.ParseQoS(wc.QoS); err != nil {
					bad(wp+".qos", err)
				}
				g.Writers = append(g.Writers, w)
			}
			conn.WriterGroups = append(conn.WriterGroups, g)
		}
		out.Connections = append(out.Connections, conn)
	}

	if len(errs) == 0 {
		if err := out.Validate(); err != nil {
			return nil, err
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &out, nil
}

func dataSetMask(m Mask) (domain.DataSetMessageMask, error) {
	if m.Bits != nil {
		return domain.DataSetMessageMaskFromBits(*m.Bits)
	}
	return domain.ParseDataSetMessageMask(m.Names)
}

func fieldMask(m Mask) (domain.FieldContentMask, error) {
	if m.Bits != nil {
		return domain.FieldContentMaskFromBits(*m.Bits)
	}
	return domain.ParseFieldContentMask(m.Names)
}

func networkMask(m Mask) (domain.NetworkMessageMask, error) {
	if m.Bits != nil {
		return domain.NetworkMessageMaskFromBits(*m.Bits)
	}
	return domain.ParseNetworkMessageMask(m.Names)
}
