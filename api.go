package uapubsub

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"

	base "github.com/industry40tv/opc-ua-pub-sub/pkg/pubsub"
)

// Re-exported errors for convenience.
var (
	ErrConfiguration          = base.ErrConfiguration
	ErrSourceUnavailable      = base.ErrSourceUnavailable
	ErrUnsupportedQoS         = base.ErrUnsupportedQoS
	ErrNotConnected           = base.ErrNotConnected
	ErrTransportUnavailable   = base.ErrTransportUnavailable
	ErrSendFailed             = base.ErrSendFailed
	ErrPartialActivation      = base.ErrPartialActivation
	ErrChannelTransportClosed = base.ErrChannelTransportClosed
)

// Type aliases so consumers can import github.com/industry40tv/opc-ua-pub-sub directly.
type (
	Config             = base.Config
	Policy             = base.Policy
	OPCUAConfig        = base.OPCUAConfig
	MetricsConfig      = base.MetricsConfig
	LogConfig          = base.LogConfig
	ProfileInfo        = base.ProfileInfo
	Configuration      = base.Configuration
	PublishedDataSet   = base.PublishedDataSet
	FieldDefinition    = base.FieldDefinition
	MetaDataVersion    = base.MetaDataVersion
	Connection         = base.Connection
	TransportOptions   = base.TransportOptions
	WriterGroup        = base.WriterGroup
	DataSetWriter      = base.DataSetWriter
	DataSetMessageMask = base.DataSetMessageMask
	FieldContentMask   = base.FieldContentMask
	NetworkMessageMask = base.NetworkMessageMask
	QoS                = base.QoS
	BusyPolicy         = base.BusyPolicy
	ActivationError    = base.ActivationError
	ConfigError        = base.ConfigError
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	StreamInOption     = base.StreamInOption
	StreamOutOption    = base.StreamOutOption
	Option             = base.Option
	Publisher          = base.Publisher
	Runtime            = base.Runtime
	Stats              = base.Stats
	AddressSpace       = base.AddressSpace
	MemoryAddressSpace = base.MemoryAddressSpace
	TransportFactory   = base.TransportFactory
	Encoder            = base.Encoder
	Observability      = base.Observability
	Event              = base.Event
	EventHandler       = base.EventHandler
	Message            = base.Message
	MessageHandler     = base.MessageHandler
	Decoded            = base.Decoded
)

const (
	AtMostOnce  = base.AtMostOnce
	AtLeastOnce = base.AtLeastOnce
	ExactlyOnce = base.ExactlyOnce

	ProfileMQTTJSON   = base.ProfileMQTTJSON
	ProfileNATSJSON   = base.ProfileNATSJSON
	ProfileOutboxJSON = base.ProfileOutboxJSON
	ProfileMemoryJSON = base.ProfileMemoryJSON
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func Profiles() []ProfileInfo {
	return base.Profiles()
}

func CheckTransports(cfg *Config) error {
	return base.CheckTransports(cfg)
}

// Publisher API.
func Install(ctx context.Context, cfg *Configuration, space AddressSpace, opts ...Option) (*Publisher, error) {
	return base.Install(ctx, cfg, space, opts...)
}

func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func NewMemoryAddressSpace(clk clock.Clock) *MemoryAddressSpace {
	return base.NewMemoryAddressSpace(clk)
}

func DecodeMessage(payload []byte) (*Decoded, error) {
	return base.DecodeMessage(payload)
}

func IsConfiguration(err error) bool {
	return base.IsConfiguration(err)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...Option) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInAddressSpace(space AddressSpace) StreamInOption {
	return base.StreamInAddressSpace(space)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTransports(f TransportFactory) StreamOutOption {
	return base.StreamOutTransports(f)
}

func StreamOutCallback(fn MessageHandler) StreamOutOption {
	return base.StreamOutCallback(fn)
}

func StreamOutEncoder(enc Encoder) StreamOutOption {
	return base.StreamOutEncoder(enc)
}

func StreamOutEvents(fn EventHandler) StreamOutOption {
	return base.StreamOutEvents(fn)
}

// Options.
func WithLogger(l *slog.Logger) Option {
	return base.WithLogger(l)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithClock(clk clock.Clock) Option {
	return base.WithClock(clk)
}

func WithEventHandler(fn EventHandler) Option {
	return base.WithEventHandler(fn)
}

func WithPolicy(p Policy) Option {
	return base.WithPolicy(p)
}

func WithTransportFactory(f TransportFactory) Option {
	return base.WithTransportFactory(f)
}

func WithAddressSpace(space AddressSpace) Option {
	return base.WithAddressSpace(space)
}

// Transport adapters.
func NewCallbackTransports(fn MessageHandler) TransportFactory {
	return base.NewCallbackTransports(fn)
}

func NewChannelTransports(buffer int) (TransportFactory, <-chan Message, func()) {
	return base.NewChannelTransports(buffer)
}
