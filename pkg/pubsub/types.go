package pubsub

import (
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/encoding/jsonmsg"
	"github.com/industry40tv/opc-ua-pub-sub/internal/app/publisher"
	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Configuration is the validated description of what to publish: published
// datasets plus connections with their writer groups and writers.
type Configuration = domain.Configuration

type (
	PublishedDataSet   = domain.PublishedDataSet
	FieldDefinition    = domain.FieldDefinition
	MetaDataVersion    = domain.MetaDataVersion
	Connection         = domain.Connection
	TransportOptions   = domain.TransportOptions
	WriterGroup        = domain.WriterGroup
	DataSetWriter      = domain.DataSetWriter
	DataSetMessageMask = domain.DataSetMessageMask
	FieldContentMask   = domain.FieldContentMask
	NetworkMessageMask = domain.NetworkMessageMask
	QoS                = domain.QoS
	BusyPolicy         = domain.BusyPolicy
	DataValue          = domain.DataValue
	Snapshot           = domain.Snapshot
	ConfigError        = domain.ConfigError
	ActivationError    = domain.ActivationError
)

const (
	AtMostOnce  = domain.AtMostOnce
	AtLeastOnce = domain.AtLeastOnce
	ExactlyOnce = domain.ExactlyOnce

	BusySkip  = domain.BusySkip
	BusyQueue = domain.BusyQueue
)

// AddressSpace resolves source references and reads their current values.
type AddressSpace = ports.AddressSpace

// VariableHandle is a resolved source reference.
type VariableHandle = ports.VariableHandle

// Transport is one connection to a message broker.
type Transport = ports.Transport

// TransportFactory opens a Transport for a connection's transport profile.
type TransportFactory = ports.TransportFactory

// Encoder turns network messages into wire payloads.
type Encoder = ports.Encoder

// Observability emits the publisher's logs and metrics.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

type (
	Event           = domain.Event
	EventKind       = domain.EventKind
	EventHandler    = ports.EventSink
	ConnectionState = domain.ConnectionState
)

const (
	EventConnected          = domain.EventConnected
	EventConnectionLost     = domain.EventConnectionLost
	EventReconnected        = domain.EventReconnected
	EventReconnectExhausted = domain.EventReconnectExhausted
	EventGroupStarted       = domain.EventGroupStarted
	EventGroupStopped       = domain.EventGroupStopped
)

type (
	Stats           = publisher.Stats
	WriterStats     = publisher.WriterStats
	ConnectionStats = publisher.ConnectionStats
)

// Decoded is a parsed JSON network message.
type Decoded = jsonmsg.Decoded

// DecodeMessage parses a payload produced by the JSON encoder.
func DecodeMessage(payload []byte) (*Decoded, error) { return jsonmsg.Decode(payload) }

var (
	ErrConfiguration        = domain.ErrConfiguration
	ErrSourceUnavailable    = domain.ErrSourceUnavailable
	ErrUnsupportedQoS       = domain.ErrUnsupportedQoS
	ErrNotConnected         = domain.ErrNotConnected
	ErrTransportUnavailable = domain.ErrTransportUnavailable
	ErrSendFailed           = domain.ErrSendFailed
	ErrPartialActivation    = domain.ErrPartialActivation
)

// IsConfiguration reports whether err was caused by invalid configuration.
func IsConfiguration(err error) bool { return domain.IsConfiguration(err) }
