package domain

import (
	"math"
	"reflect"
	"time"

	"github.com/gopcua/opcua/ua"
)

// DataValue is a sampled value together with its quality and timestamps.
type DataValue struct {
	Value           any
	Type            ua.TypeID
	Status          ua.StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// Equal reports whether two values carry the same value and status. Timestamps
// are ignored so that a delta frame only reports real changes.
func (v DataValue) Equal(o DataValue) bool {
	return v.Status == o.Status && v.Type == o.Type && sameValue(v.Value, o.Value)
}

// sameValue treats NaN as equal to NaN so a field stuck at NaN is not
// reported as changed on every cycle.
func sameValue(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case float32:
		y, ok := b.(float32)
		return ok && (x == y || (x != x && y != y))
	case []float64:
		y, ok := b.([]float64)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !sameValue(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

type FieldValue struct {
	Name  string
	Value DataValue
}

// MessageType distinguishes key frames from delta frames and keep-alives.
type MessageType int

const (
	KeyFrame MessageType = iota
	DeltaFrame
	KeepAlive
)

func (t MessageType) String() string {
	switch t {
	case KeyFrame:
		return "ua-keyframe"
	case DeltaFrame:
		return "ua-deltaframe"
	case KeepAlive:
		return "ua-keepalive"
	default:
		return "unknown"
	}
}

// Snapshot is one consistent sample of a dataset, created fresh per cycle.
type Snapshot struct {
	DataSetName     string
	WriterID        uint16
	WriterName      string
	SequenceNumber  uint16
	Timestamp       time.Time
	MetaDataVersion MetaDataVersion
	Type            MessageType
	Fields          []FieldValue
}

// Status folds the field statuses into a dataset level status: the first bad
// status wins, then the first uncertain one.
func (s *Snapshot) Status() ua.StatusCode {
	var uncertain ua.StatusCode
	for _, f := range s.Fields {
		switch {
		case IsBad(f.Value.Status):
			return f.Value.Status
		case IsUncertain(f.Value.Status) && uncertain == StatusGood:
			uncertain = f.Value.Status
		}
	}
	return uncertain
}

// DataSetMessage pairs a snapshot with the masks its writer publishes with.
type DataSetMessage struct {
	Snapshot  Snapshot
	Mask      DataSetMessageMask
	FieldMask FieldContentMask
}

// NetworkMessage is the unit handed to an encoder: the network header values
// plus one or more dataset messages.
type NetworkMessage struct {
	PublisherID     string
	WriterGroupName string
	WriterGroupID   uint16
	DataSetClassID  string
	ReplyTo         string
	Mask            NetworkMessageMask
	Messages        []DataSetMessage
}
