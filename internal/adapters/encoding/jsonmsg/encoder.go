// Package jsonmsg implements the JSON message mapping of OPC UA PubSub.
//
// The encoder writes members in a fixed order with no insignificant
// whitespace, so identical input always produces identical bytes.
package jsonmsg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

const (
	ContentType = "application/json"

	messageTypeData     = "ua-data"
	messageTypeMetaData = "ua-metadata"
)

// Encoder is stateless and safe for concurrent use.
type Encoder struct{}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) ContentType() string { return ContentType }

func (e *Encoder) Encode(msg domain.NetworkMessage) ([]byte, error) {
	if len(msg.Messages) == 0 {
		return nil, fmt.Errorf("jsonmsg: network message without dataset messages")
	}
	if msg.Mask.SingleDataSetMessage && len(msg.Messages) != 1 {
		return nil, fmt.Errorf("jsonmsg: single dataset message mask with %d messages", len(msg.Messages))
	}

	w := &writer{}
	if msg.Mask.HeaderPresent() {
		w.open('{')
		w.key("MessageId")
		w.str(MessageID(msg))
		w.key("MessageType")
		w.str(messageTypeData)
		if msg.Mask.PublisherID {
			w.key("PublisherId")
			w.str(msg.PublisherID)
		}
		if msg.Mask.WriterGroupName {
			w.key("WriterGroupName")
			w.str(msg.WriterGroupName)
		}
		if msg.Mask.DataSetClassID {
			w.key("DataSetClassId")
			w.str(msg.DataSetClassID)
		}
		if msg.Mask.ReplyTo {
			w.key("ReplyTo")
			w.str(msg.ReplyTo)
		}
		w.key("Messages")
	}

	if msg.Mask.SingleDataSetMessage {
		w.dataSetMessage(msg.Mask, msg.Messages[0])
	} else {
		w.open('[')
		for _, m := range msg.Messages {
			w.sep()
			w.dataSetMessage(msg.Mask, m)
		}
		w.close(']')
	}

	if msg.Mask.HeaderPresent() {
		w.close('}')
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// EncodeMetaData writes a ua-metadata message describing the dataset fields.
func (e *Encoder) EncodeMetaData(msg domain.MetaDataMessage) ([]byte, error) {
	w := &writer{}
	w.open('{')
	w.key("MessageId")
	w.str(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("metadata/%s/%d/%d.%d",
		msg.PublisherID, msg.WriterID, msg.DataSet.MetaDataVersion.Major, msg.DataSet.MetaDataVersion.Minor))).String())
	w.key("MessageType")
	w.str(messageTypeMetaData)
	w.key("PublisherId")
	w.str(msg.PublisherID)
	w.key("DataSetWriterId")
	w.uint(uint64(msg.WriterID))
	if msg.WriterName != "" {
		w.key("DataSetWriterName")
		w.str(msg.WriterName)
	}
	w.key("MetaData")
	w.open('{')
	w.key("Name")
	w.str(msg.DataSet.Name)
	if msg.DataSet.ClassID != "" {
		w.key("DataSetClassId")
		w.str(msg.DataSet.ClassID)
	}
	w.key("Fields")
	w.open('[')
	for _, f := range msg.DataSet.Fields {
		w.sep()
		w.open('{')
		w.key("Name")
		w.str(f.Name)
		w.key("BuiltInType")
		w.uint(uint64(f.BuiltInType))
		w.key("DataType")
		w.str(domain.BuiltInTypeName(f.BuiltInType))
		w.close('}')
	}
	w.close(']')
	w.key("ConfigurationVersion")
	w.version(msg.DataSet.MetaDataVersion)
	w.close('}')
	w.close('}')
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// MessageID derives a name-based UUID from the publisher, the group and the
// writer sequence numbers and sample times carried by the message. The sample
// time keeps ids unique when a failed send leaves the sequence number as is.
func MessageID(msg domain.NetworkMessage) string {
	var b bytes.Buffer
	b.WriteString(msg.PublisherID)
	b.WriteByte('/')
	b.WriteString(msg.WriterGroupName)
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(int(msg.WriterGroupID)))
	for _, m := range msg.Messages {
		fmt.Fprintf(&b, "/%d:%d:%s:%d", m.Snapshot.WriterID, m.Snapshot.SequenceNumber, m.Snapshot.Type, m.Snapshot.Timestamp.UnixNano())
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, b.Bytes()).String()
}

type writer struct {
	buf   bytes.Buffer
	first bool
	err   error
}

func (w *writer) open(c byte) {
	w.buf.WriteByte(c)
	w.first = true
}

func (w *writer) close(c byte) {
	w.buf.WriteByte(c)
	w.first = false
}

// sep writes the member separator unless this is the first member.
func (w *writer) sep() {
	if !w.first {
		w.buf.WriteByte(',')
	}
	w.first = false
}

func (w *writer) key(k string) {
	w.sep()
	w.str(k)
	w.buf.WriteByte(':')
	w.first = true
}

func (w *writer) raw(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("jsonmsg: %w", err)
		}
		w.buf.WriteString("null")
	} else {
		w.buf.Write(b)
	}
	w.first = false
}

func (w *writer) str(s string) { w.raw(s) }

func (w *writer) uint(u uint64) {
	w.buf.WriteString(strconv.FormatUint(u, 10))
	w.first = false
}

func (w *writer) time(t time.Time) { w.str(t.UTC().Format(time.RFC3339Nano)) }

func (w *writer) version(v domain.MetaDataVersion) {
	w.open('{')
	w.key("MajorVersion")
	w.uint(uint64(v.Major))
	w.key("MinorVersion")
	w.uint(uint64(v.Minor))
	w.close('}')
}

func (w *writer) dataSetMessage(nm domain.NetworkMessageMask, m domain.DataSetMessage) {
	s := m.Snapshot
	// a keep-alive is only recognisable by its header
	keepAlive := s.Type == domain.KeepAlive
	if !nm.DataSetHeaderPresent(m.Mask) && !keepAlive {
		w.payload(m)
		return
	}
	w.open('{')
	if m.Mask.DataSetWriterID {
		w.key("DataSetWriterId")
		w.uint(uint64(s.WriterID))
	}
	if m.Mask.DataSetWriterName {
		w.key("DataSetWriterName")
		w.str(s.WriterName)
	}
	if m.Mask.SequenceNumber {
		w.key("SequenceNumber")
		w.uint(uint64(s.SequenceNumber))
	}
	if m.Mask.MetaDataVersion {
		w.key("MetaDataVersion")
		w.version(s.MetaDataVersion)
	}
	if m.Mask.Timestamp {
		w.key("Timestamp")
		w.time(s.Timestamp)
	}
	if m.Mask.Status {
		w.key("Status")
		w.uint(uint64(s.Status()))
	}
	if m.Mask.MessageType || keepAlive {
		w.key("MessageType")
		w.str(s.Type.String())
	}
	if !keepAlive {
		w.key("Payload")
		w.payload(m)
	}
	w.close('}')
}

func (w *writer) payload(m domain.DataSetMessage) {
	w.open('{')
	for _, f := range m.Snapshot.Fields {
		w.key(f.Name)
		w.field(m.FieldMask, f.Value)
	}
	w.close('}')
}

func (w *writer) field(fm domain.FieldContentMask, v domain.DataValue) {
	switch {
	case fm.RawData:
		w.body(v.Type, v.Value)
	case fm.DataValueEncoding():
		w.open('{')
		if v.Value != nil {
			w.key("Value")
			w.variant(v.Type, v.Value)
		}
		if fm.StatusCode {
			w.key("StatusCode")
			w.uint(uint64(v.Status))
		}
		if fm.SourceTimestamp {
			w.key("SourceTimestamp")
			w.time(v.SourceTimestamp)
		}
		if fm.ServerTimestamp {
			w.key("ServerTimestamp")
			w.time(v.ServerTimestamp)
		}
		w.close('}')
	default:
		if v.Value == nil {
			w.buf.WriteString("null")
			w.first = false
			return
		}
		w.variant(v.Type, v.Value)
	}
}

func (w *writer) variant(t ua.TypeID, v any) {
	w.open('{')
	w.key("Type")
	w.uint(uint64(t))
	w.key("Body")
	w.body(t, v)
	w.close('}')
}

// body writes the JSON form of a built-in type value. 64-bit integers are
// strings and non-finite floats use their symbolic names.
func (w *writer) body(t ua.TypeID, v any) {
	switch val := v.(type) {
	case nil:
		w.buf.WriteString("null")
		w.first = false
	case int64:
		w.str(strconv.FormatInt(val, 10))
	case uint64:
		w.str(strconv.FormatUint(val, 10))
	case float32:
		if s, ok := nonFinite(float64(val)); ok {
			w.str(s)
			return
		}
		w.raw(val)
	case float64:
		if s, ok := nonFinite(val); ok {
			w.str(s)
			return
		}
		if t == ua.TypeIDFloat {
			w.raw(float32(val))
			return
		}
		w.raw(val)
	case time.Time:
		w.time(val)
	default:
		w.raw(val)
	}
}

func nonFinite(f float64) (string, bool) {
	switch {
	case math.IsNaN(f):
		return "NaN", true
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	}
	return "", false
}

var _ ports.Encoder = (*Encoder)(nil)
