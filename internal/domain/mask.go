package domain

import (
	"fmt"
	"strings"
)

// DataSetMessageMask selects the optional dataset message header members.
type DataSetMessageMask struct {
	DataSetWriterID   bool
	MetaDataVersion   bool
	SequenceNumber    bool
	Timestamp         bool
	Status            bool
	MessageType       bool
	DataSetWriterName bool
}

// FieldContentMask selects how each payload field is represented.
type FieldContentMask struct {
	StatusCode      bool
	SourceTimestamp bool
	ServerTimestamp bool
	RawData         bool
}

// NetworkMessageMask selects the optional network message members.
type NetworkMessageMask struct {
	NetworkMessageHeader bool
	DataSetMessageHeader bool
	SingleDataSetMessage bool
	PublisherID          bool
	DataSetClassID       bool
	ReplyTo              bool
	WriterGroupName      bool
}

// maskFlag binds a flag name and its OPC UA bit to a struct member.
type maskFlag[M any] struct {
	name string
	bit  uint32
	ptr  func(*M) *bool
}

var dataSetMessageFlags = []maskFlag[DataSetMessageMask]{
	{"DataSetWriterId", 1 << 0, func(m *DataSetMessageMask) *bool { return &m.DataSetWriterID }},
	{"MetaDataVersion", 1 << 1, func(m *DataSetMessageMask) *bool { return &m.MetaDataVersion }},
	{"SequenceNumber", 1 << 2, func(m *DataSetMessageMask) *bool { return &m.SequenceNumber }},
	{"Timestamp", 1 << 3, func(m *DataSetMessageMask) *bool { return &m.Timestamp }},
	{"Status", 1 << 4, func(m *DataSetMessageMask) *bool { return &m.Status }},
	{"MessageType", 1 << 5, func(m *DataSetMessageMask) *bool { return &m.MessageType }},
	{"DataSetWriterName", 1 << 6, func(m *DataSetMessageMask) *bool { return &m.DataSetWriterName }},
}

var fieldContentFlags = []maskFlag[FieldContentMask]{
	{"StatusCode", 1 << 0, func(m *FieldContentMask) *bool { return &m.StatusCode }},
	{"SourceTimestamp", 1 << 1, func(m *FieldContentMask) *bool { return &m.SourceTimestamp }},
	{"ServerTimestamp", 1 << 2, func(m *FieldContentMask) *bool { return &m.ServerTimestamp }},
	// bits 3 and 4 are the picosecond flags, which are not supported
	{"RawData", 1 << 5, func(m *FieldContentMask) *bool { return &m.RawData }},
}

var networkMessageFlags = []maskFlag[NetworkMessageMask]{
	{"NetworkMessageHeader", 1 << 0, func(m *NetworkMessageMask) *bool { return &m.NetworkMessageHeader }},
	{"DataSetMessageHeader", 1 << 1, func(m *NetworkMessageMask) *bool { return &m.DataSetMessageHeader }},
	{"SingleDataSetMessage", 1 << 2, func(m *NetworkMessageMask) *bool { return &m.SingleDataSetMessage }},
	{"PublisherId", 1 << 3, func(m *NetworkMessageMask) *bool { return &m.PublisherID }},
	{"DataSetClassId", 1 << 4, func(m *NetworkMessageMask) *bool { return &m.DataSetClassID }},
	{"ReplyTo", 1 << 5, func(m *NetworkMessageMask) *bool { return &m.ReplyTo }},
	{"WriterGroupName", 1 << 6, func(m *NetworkMessageMask) *bool { return &m.WriterGroupName }},
}

func parseNames[M any](kind string, flags []maskFlag[M], names []string) (M, error) {
	var m M
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || strings.EqualFold(name, "None") {
			continue
		}
		found := false
		for _, f := range flags {
			if strings.EqualFold(f.name, name) {
				*f.ptr(&m) = true
				found = true
				break
			}
		}
		if !found {
			return m, fmt.Errorf("unknown %s flag %q", kind, raw)
		}
	}
	return m, nil
}

func fromBits[M any](kind string, flags []maskFlag[M], v uint32) (M, error) {
	var (
		m     M
		known uint32
	)
	for _, f := range flags {
		known |= f.bit
		if v&f.bit != 0 {
			*f.ptr(&m) = true
		}
	}
	if rest := v &^ known; rest != 0 {
		return m, fmt.Errorf("unsupported %s bit(s) 0x%x", kind, rest)
	}
	return m, nil
}

func toBits[M any](flags []maskFlag[M], m M) uint32 {
	var v uint32
	for _, f := range flags {
		if *f.ptr(&m) {
			v |= f.bit
		}
	}
	return v
}

func toNames[M any](flags []maskFlag[M], m M) []string {
	var out []string
	for _, f := range flags {
		if *f.ptr(&m) {
			out = append(out, f.name)
		}
	}
	return out
}

func ParseDataSetMessageMask(names []string) (DataSetMessageMask, error) {
	return parseNames("dataset message content mask", dataSetMessageFlags, names)
}

func DataSetMessageMaskFromBits(v uint32) (DataSetMessageMask, error) {
	return fromBits("dataset message content mask", dataSetMessageFlags, v)
}

func (m DataSetMessageMask) Bits() uint32    { return toBits(dataSetMessageFlags, m) }
func (m DataSetMessageMask) Names() []string { return toNames(dataSetMessageFlags, m) }

// Any reports whether at least one header member is selected.
func (m DataSetMessageMask) Any() bool { return m.Bits() != 0 }

func ParseFieldContentMask(names []string) (FieldContentMask, error) {
	return parseNames("field content mask", fieldContentFlags, names)
}

func FieldContentMaskFromBits(v uint32) (FieldContentMask, error) {
	return fromBits("field content mask", fieldContentFlags, v)
}

func (m FieldContentMask) Bits() uint32    { return toBits(fieldContentFlags, m) }
func (m FieldContentMask) Names() []string { return toNames(fieldContentFlags, m) }

// DataValueEncoding reports whether fields are written as DataValue objects
// rather than bare variants.
func (m FieldContentMask) DataValueEncoding() bool {
	return m.StatusCode || m.SourceTimestamp || m.ServerTimestamp
}

// Validate rejects combinations that cannot be represented. RawData drops the
// type information and cannot be combined with DataValue members.
func (m FieldContentMask) Validate() error {
	if m.RawData && m.DataValueEncoding() {
		return fmt.Errorf("field content mask: RawData cannot be combined with %s",
			strings.Join(toNames(fieldContentFlags, FieldContentMask{
				StatusCode:      m.StatusCode,
				SourceTimestamp: m.SourceTimestamp,
				ServerTimestamp: m.ServerTimestamp,
			}), ", "))
	}
	return nil
}

func ParseNetworkMessageMask(names []string) (NetworkMessageMask, error) {
	return parseNames("network message content mask", networkMessageFlags, names)
}

func NetworkMessageMaskFromBits(v uint32) (NetworkMessageMask, error) {
	return fromBits("network message content mask", networkMessageFlags, v)
}

func (m NetworkMessageMask) Bits() uint32    { return toBits(networkMessageFlags, m) }
func (m NetworkMessageMask) Names() []string { return toNames(networkMessageFlags, m) }

// HeaderPresent reports whether the network message header is written. The
// header is implied as soon as one of its members is selected.
func (m NetworkMessageMask) HeaderPresent() bool {
	return m.NetworkMessageHeader || m.PublisherID || m.DataSetClassID || m.ReplyTo || m.WriterGroupName
}

// DataSetHeaderPresent reports whether dataset messages carry a header object
// around their payload for the given dataset mask.
func (m NetworkMessageMask) DataSetHeaderPresent(ds DataSetMessageMask) bool {
	return m.DataSetMessageHeader || ds.Any()
}
