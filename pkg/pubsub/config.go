package pubsub

import (
	"errors"

	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/opcua"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/transport"
	"github.com/industry40tv/opc-ua-pub-sub/internal/app/config"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Config re-exports the YAML document structure so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy bounds shutdown, send and connect durations.
	Policy = ports.Policy
	// OPCUAConfig describes a remote OPC UA server used as the source.
	OPCUAConfig = opcua.Config
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects the log level and format.
	LogConfig = config.LogConfig
	// ProfileInfo describes a supported transport profile.
	ProfileInfo = transport.ProfileInfo
)

const (
	ProfileMQTTJSON   = transport.ProfileMQTTJSON
	ProfileNATSJSON   = transport.ProfileNATSJSON
	ProfileOutboxJSON = transport.ProfileOutboxJSON
	ProfileMemoryJSON = transport.ProfileMemoryJSON
)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig validates an in-memory YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// Profiles lists the built-in transport profiles.
func Profiles() []ProfileInfo { return transport.Profiles() }

// CheckTransports verifies every enabled connection against its transport
// profile: address syntax, outbox table names and the delivery guarantees
// the transport can honour. Nothing is dialed.
func CheckTransports(cfg *Config) error {
	ps, err := cfg.PubSub()
	if err != nil {
		return err
	}
	f := transport.NewFactory()
	var errs []error
	for _, conn := range ps.Connections {
		if !conn.Enabled {
			continue
		}
		if err := f.Check(conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
