package jsonmsg

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/tidwall/gjson"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

var ErrMalformed = errors.New("jsonmsg: malformed message")

// Decoded is the result of parsing a JSON network message. The masks report
// which optional members were present on the wire.
type Decoded struct {
	MessageID   string
	NetworkMask domain.NetworkMessageMask
	PublisherID string
	WriterGroup string
	ClassID     string
	ReplyTo     string
	Messages    []DecodedMessage
}

type DecodedMessage struct {
	Mask      domain.DataSetMessageMask
	FieldMask domain.FieldContentMask
	Snapshot  domain.Snapshot
	Status    ua.StatusCode
}

// Decode parses a message produced by Encoder. A top level "Messages" member
// marks a network header; a "Payload" member (or a keep-alive message type)
// marks a dataset message header.
func Decode(data []byte) (*Decoded, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	out := &Decoded{}

	msgs := root
	if root.IsObject() && root.Get("Messages").Exists() {
		out.NetworkMask.NetworkMessageHeader = true
		out.MessageID = root.Get("MessageId").String()
		if mt := root.Get("MessageType").String(); mt != messageTypeData {
			return nil, fmt.Errorf("%w: message type %q", ErrMalformed, mt)
		}
		if v := root.Get("PublisherId"); v.Exists() {
			out.NetworkMask.PublisherID = true
			out.PublisherID = v.String()
		}
		if v := root.Get("WriterGroupName"); v.Exists() {
			out.NetworkMask.WriterGroupName = true
			out.WriterGroup = v.String()
		}
		if v := root.Get("DataSetClassId"); v.Exists() {
			out.NetworkMask.DataSetClassID = true
			out.ClassID = v.String()
		}
		if v := root.Get("ReplyTo"); v.Exists() {
			out.NetworkMask.ReplyTo = true
			out.ReplyTo = v.String()
		}
		msgs = root.Get("Messages")
	}

	var err error
	switch {
	case msgs.IsArray():
		msgs.ForEach(func(_, m gjson.Result) bool {
			var dm DecodedMessage
			dm, err = decodeMessage(m, &out.NetworkMask)
			if err != nil {
				return false
			}
			out.Messages = append(out.Messages, dm)
			return true
		})
	case msgs.IsObject():
		out.NetworkMask.SingleDataSetMessage = true
		var dm DecodedMessage
		dm, err = decodeMessage(msgs, &out.NetworkMask)
		out.Messages = append(out.Messages, dm)
	default:
		err = fmt.Errorf("%w: no dataset messages", ErrMalformed)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMessage(m gjson.Result, nm *domain.NetworkMessageMask) (DecodedMessage, error) {
	var dm DecodedMessage
	if !m.IsObject() {
		return dm, fmt.Errorf("%w: dataset message is not an object", ErrMalformed)
	}
	payload := m
	mt := m.Get("MessageType")
	if m.Get("Payload").Exists() || mt.String() == domain.KeepAlive.String() {
		nm.DataSetMessageHeader = true
		if v := m.Get("DataSetWriterId"); v.Exists() {
			dm.Mask.DataSetWriterID = true
			dm.Snapshot.WriterID = uint16(v.Uint())
		}
		if v := m.Get("DataSetWriterName"); v.Exists() {
			dm.Mask.DataSetWriterName = true
			dm.Snapshot.WriterName = v.String()
		}
		if v := m.Get("SequenceNumber"); v.Exists() {
			dm.Mask.SequenceNumber = true
			dm.Snapshot.SequenceNumber = uint16(v.Uint())
		}
		if v := m.Get("MetaDataVersion"); v.Exists() {
			dm.Mask.MetaDataVersion = true
			dm.Snapshot.MetaDataVersion = domain.MetaDataVersion{
				Major: uint32(v.Get("MajorVersion").Uint()),
				Minor: uint32(v.Get("MinorVersion").Uint()),
			}
		}
		if v := m.Get("Timestamp"); v.Exists() {
			dm.Mask.Timestamp = true
			ts, err := time.Parse(time.RFC3339Nano, v.String())
			if err != nil {
				return dm, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
			}
			dm.Snapshot.Timestamp = ts
		}
		if v := m.Get("Status"); v.Exists() {
			dm.Mask.Status = true
			dm.Status = ua.StatusCode(v.Uint())
		}
		if mt.Exists() {
			dm.Mask.MessageType = true
			switch mt.String() {
			case domain.DeltaFrame.String():
				dm.Snapshot.Type = domain.DeltaFrame
			case domain.KeepAlive.String():
				dm.Snapshot.Type = domain.KeepAlive
			}
		}
		payload = m.Get("Payload")
		if !payload.Exists() {
			return dm, nil
		}
	}

	var err error
	fieldMaskSeen := false
	payload.ForEach(func(k, v gjson.Result) bool {
		var (
			dv domain.DataValue
			fm domain.FieldContentMask
		)
		dv, fm, err = decodeField(v)
		if err != nil {
			err = fmt.Errorf("field %q: %w", k.String(), err)
			return false
		}
		if !fieldMaskSeen {
			dm.FieldMask = fm
			fieldMaskSeen = true
		}
		dm.Snapshot.Fields = append(dm.Snapshot.Fields, domain.FieldValue{Name: k.String(), Value: dv})
		return true
	})
	return dm, err
}

func decodeField(v gjson.Result) (domain.DataValue, domain.FieldContentMask, error) {
	var (
		dv domain.DataValue
		fm domain.FieldContentMask
	)
	switch {
	case v.Type == gjson.Null:
		return dv, fm, nil
	case isVariant(v):
		t, body, err := decodeVariant(v)
		dv.Type, dv.Value = t, body
		return dv, fm, err
	case v.IsObject() && isDataValue(v):
		if val := v.Get("Value"); val.Exists() {
			t, body, err := decodeVariant(val)
			if err != nil {
				return dv, fm, err
			}
			dv.Type, dv.Value = t, body
		}
		if sc := v.Get("StatusCode"); sc.Exists() {
			fm.StatusCode = true
			dv.Status = ua.StatusCode(sc.Uint())
		}
		for _, ts := range []struct {
			name string
			flag *bool
			dst  *time.Time
		}{
			{"SourceTimestamp", &fm.SourceTimestamp, &dv.SourceTimestamp},
			{"ServerTimestamp", &fm.ServerTimestamp, &dv.ServerTimestamp},
		} {
			r := v.Get(ts.name)
			if !r.Exists() {
				continue
			}
			*ts.flag = true
			t, err := time.Parse(time.RFC3339Nano, r.String())
			if err != nil {
				return dv, fm, fmt.Errorf("%w: %s: %v", ErrMalformed, ts.name, err)
			}
			*ts.dst = t
		}
		return dv, fm, nil
	default:
		fm.RawData = true
		dv.Value = rawValue(v)
		return dv, fm, nil
	}
}

func isVariant(v gjson.Result) bool {
	return v.IsObject() && v.Get("Type").Type == gjson.Number && v.Get("Body").Exists()
}

func isDataValue(v gjson.Result) bool {
	return v.Get("Value").Exists() || v.Get("StatusCode").Exists() ||
		v.Get("SourceTimestamp").Exists() || v.Get("ServerTimestamp").Exists()
}

func rawValue(v gjson.Result) any {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

func decodeVariant(v gjson.Result) (ua.TypeID, any, error) {
	if !isVariant(v) {
		return 0, nil, fmt.Errorf("%w: not a variant", ErrMalformed)
	}
	t := ua.TypeID(v.Get("Type").Uint())
	body := v.Get("Body")
	if body.Type == gjson.Null {
		return t, nil, nil
	}
	val, err := decodeBody(t, body)
	return t, val, err
}

func decodeBody(t ua.TypeID, b gjson.Result) (any, error) {
	switch t {
	case ua.TypeIDBoolean:
		return b.Bool(), nil
	case ua.TypeIDSByte:
		return int8(b.Int()), nil
	case ua.TypeIDByte:
		return uint8(b.Uint()), nil
	case ua.TypeIDInt16:
		return int16(b.Int()), nil
	case ua.TypeIDUint16:
		return uint16(b.Uint()), nil
	case ua.TypeIDInt32:
		return int32(b.Int()), nil
	case ua.TypeIDUint32:
		return uint32(b.Uint()), nil
	case ua.TypeIDInt64:
		return strconv.ParseInt(b.String(), 10, 64)
	case ua.TypeIDUint64:
		return strconv.ParseUint(b.String(), 10, 64)
	case ua.TypeIDFloat:
		return float32(floatBody(b)), nil
	case ua.TypeIDDouble:
		return floatBody(b), nil
	case ua.TypeIDString:
		return b.String(), nil
	case ua.TypeIDDateTime:
		return time.Parse(time.RFC3339Nano, b.String())
	case ua.TypeIDByteString:
		return base64.StdEncoding.DecodeString(b.String())
	default:
		return nil, fmt.Errorf("%w: unsupported built-in type %d", ErrMalformed, t)
	}
}

func floatBody(b gjson.Result) float64 {
	if b.Type == gjson.String {
		switch b.String() {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
	}
	return b.Float()
}
