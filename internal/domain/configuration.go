package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BusyPolicy decides what a writer does with a tick that arrives while its
// previous cycle is still in flight.
type BusyPolicy int

const (
	// BusySkip drops the tick and counts it.
	BusySkip BusyPolicy = iota
	// BusyQueue keeps up to QueueDepth pending ticks, dropping the oldest.
	BusyQueue
)

func (p BusyPolicy) String() string {
	if p == BusyQueue {
		return "queue"
	}
	return "skip"
}

func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return BusySkip, nil
	case "queue":
		return BusyQueue, nil
	default:
		return BusySkip, fmt.Errorf("unknown busy policy %q", s)
	}
}

// DataSetWriter publishes one dataset within a writer group.
type DataSetWriter struct {
	ID                uint16
	Name              string
	DataSetName       string
	Enabled           bool
	Mask              DataSetMessageMask
	FieldMask         FieldContentMask
	QueueName         string
	MetaDataQueueName string
	QoS               QoS
	// KeyFrameCount is the number of cycles between key frames. Zero and one
	// both mean every message is a key frame.
	KeyFrameCount uint32
}

// WriterGroup shares one publishing interval between its writers.
type WriterGroup struct {
	Name               string
	ID                 uint16
	Enabled            bool
	PublishingInterval time.Duration
	KeepAliveTime      time.Duration
	NetworkMask        NetworkMessageMask
	BusyPolicy         BusyPolicy
	QueueDepth         int
	Writers            []DataSetWriter
}

// TransportOptions carries the variant specific connection settings.
type TransportOptions struct {
	ClientID        string
	Username        string
	Password        string
	JetStream       bool
	OutboxTable     string
	KeepAlive       time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	ReconnectBudget time.Duration
}

// Connection binds writer groups to one transport endpoint.
type Connection struct {
	Name                string
	Enabled             bool
	TransportProfileURI string
	Address             string
	PublisherID         string
	Options             TransportOptions
	WriterGroups        []WriterGroup
}

// Configuration is the complete, validated description of what to publish.
type Configuration struct {
	DataSets    []PublishedDataSet
	Connections []Connection
}

// DataSet returns the published dataset with the given name.
func (c *Configuration) DataSet(name string) (*PublishedDataSet, bool) {
	for i := range c.DataSets {
		if c.DataSets[i].Name == name {
			return &c.DataSets[i], true
		}
	}
	return nil, false
}

// GroupKey identifies a writer group across connections.
func GroupKey(conn, group string) string { return conn + "/" + group }

// Validate checks the structural invariants. All problems are reported,
// each as a *ConfigError joined into the result.
func (c *Configuration) Validate() error {
	var errs []error
	add := func(path, format string, args ...any) {
		errs = append(errs, ConfigErrorf(path, format, args...))
	}

	dsNames := map[string]bool{}
	for i, ds := range c.DataSets {
		p := fmt.Sprintf("published_datasets[%d]", i)
		if ds.Name == "" {
			add(p+".name", "must not be empty")
		} else if dsNames[ds.Name] {
			add(p+".name", "duplicate dataset %q", ds.Name)
		}
		dsNames[ds.Name] = true
		if len(ds.Fields) == 0 {
			add(p+".fields", "dataset %q has no fields", ds.Name)
		}
		fieldNames := map[string]bool{}
		for j, f := range ds.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", p, j)
			if f.Name == "" {
				add(fp+".name", "must not be empty")
			} else if fieldNames[f.Name] {
				add(fp+".name", "duplicate field %q", f.Name)
			}
			fieldNames[f.Name] = true
			if _, ok := builtInTypeNames[f.BuiltInType]; !ok {
				add(fp+".type", "unsupported built-in type %d", f.BuiltInType)
			}
			if f.Source == "" {
				add(fp+".source", "must not be empty")
			}
			if f.SamplingIntervalHint < 0 {
				add(fp+".sampling_interval_hint", "must not be negative")
			}
		}
	}

	connNames := map[string]bool{}
	for i, conn := range c.Connections {
		p := fmt.Sprintf("connections[%d]", i)
		if conn.Name == "" {
			add(p+".name", "must not be empty")
		} else if connNames[conn.Name] {
			add(p+".name", "duplicate connection %q", conn.Name)
		}
		connNames[conn.Name] = true
		if conn.TransportProfileURI == "" {
			add(p+".transport_profile_uri", "must not be empty")
		}
		groupNames := map[string]bool{}
		writerIDs := map[uint16]string{}
		for j, g := range conn.WriterGroups {
			gp := fmt.Sprintf("%s.writer_groups[%d]", p, j)
			if g.Name == "" {
				add(gp+".name", "must not be empty")
			} else if groupNames[g.Name] {
				add(gp+".name", "duplicate writer group %q", g.Name)
			}
			groupNames[g.Name] = true
			if g.PublishingInterval <= 0 {
				add(gp+".publishing_interval", "must be greater than zero, got %s", g.PublishingInterval)
			}
			if g.KeepAliveTime < 0 {
				add(gp+".keep_alive_time", "must not be negative")
			}
			if g.BusyPolicy == BusyQueue && g.QueueDepth <= 0 {
				add(gp+".queue_depth", "must be greater than zero with the queue busy policy")
			}
			for k, w := range g.Writers {
				wp := fmt.Sprintf("%s.writers[%d]", gp, k)
				if w.ID == 0 {
					add(wp+".id", "must be greater than zero")
				} else if prev, dup := writerIDs[w.ID]; dup {
					add(wp+".id", "writer id %d already used by %q", w.ID, prev)
				} else {
					writerIDs[w.ID] = w.Name
				}
				if !dsNames[w.DataSetName] {
					add(wp+".dataset", "unknown published dataset %q", w.DataSetName)
				}
				if err := w.FieldMask.Validate(); err != nil {
					errs = append(errs, &ConfigError{Path: wp + ".field_content_mask", Err: err})
				}
				if w.QoS < AtMostOnce || w.QoS > ExactlyOnce {
					add(wp+".qos", "%v", w.QoS)
				}
				if w.Enabled && w.QueueName == "" {
					add(wp+".queue_name", "must not be empty")
				}
			}
		}
	}
	return errors.Join(errs...)
}
