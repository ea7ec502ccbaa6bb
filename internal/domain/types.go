package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gopcua/opcua/ua"
)

var builtInTypeNames = map[ua.TypeID]string{
	ua.TypeIDBoolean:    "Boolean",
	ua.TypeIDSByte:      "SByte",
	ua.TypeIDByte:       "Byte",
	ua.TypeIDInt16:      "Int16",
	ua.TypeIDUint16:     "UInt16",
	ua.TypeIDInt32:      "Int32",
	ua.TypeIDUint32:     "UInt32",
	ua.TypeIDInt64:      "Int64",
	ua.TypeIDUint64:     "UInt64",
	ua.TypeIDFloat:      "Float",
	ua.TypeIDDouble:     "Double",
	ua.TypeIDString:     "String",
	ua.TypeIDDateTime:   "DateTime",
	ua.TypeIDByteString: "ByteString",
}

// ParseBuiltInType maps an OPC UA built-in type name ("Double", "int32") to
// its type id. Only scalar types the encoder supports are accepted.
func ParseBuiltInType(name string) (ua.TypeID, error) {
	for id, n := range builtInTypeNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unsupported built-in type %q", name)
}

func BuiltInTypeName(t ua.TypeID) string {
	if n, ok := builtInTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TypeID(%d)", uint8(t))
}

// Coerce converts a sampled value to the Go representation of the declared
// built-in type. Numeric conversions must not lose the integer part or
// overflow; anything else reports false.
func Coerce(v any, t ua.TypeID) (any, bool) {
	switch t {
	case ua.TypeIDBoolean:
		b, ok := v.(bool)
		return b, ok
	case ua.TypeIDString:
		s, ok := v.(string)
		return s, ok
	case ua.TypeIDByteString:
		b, ok := v.([]byte)
		return b, ok
	case ua.TypeIDDateTime:
		ts, ok := v.(time.Time)
		return ts, ok
	case ua.TypeIDFloat:
		f, ok := toFloat(v)
		if !ok || (!math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32) {
			return nil, false
		}
		return float32(f), true
	case ua.TypeIDDouble:
		f, ok := toFloat(v)
		return f, ok
	case ua.TypeIDSByte:
		return coerceInt(v, math.MinInt8, math.MaxInt8, func(i int64) any { return int8(i) })
	case ua.TypeIDInt16:
		return coerceInt(v, math.MinInt16, math.MaxInt16, func(i int64) any { return int16(i) })
	case ua.TypeIDInt32:
		return coerceInt(v, math.MinInt32, math.MaxInt32, func(i int64) any { return int32(i) })
	case ua.TypeIDInt64:
		return coerceInt(v, math.MinInt64, math.MaxInt64, func(i int64) any { return i })
	case ua.TypeIDByte:
		return coerceUint(v, math.MaxUint8, func(u uint64) any { return uint8(u) })
	case ua.TypeIDUint16:
		return coerceUint(v, math.MaxUint16, func(u uint64) any { return uint16(u) })
	case ua.TypeIDUint32:
		return coerceUint(v, math.MaxUint32, func(u uint64) any { return uint32(u) })
	case ua.TypeIDUint64:
		return coerceUint(v, math.MaxUint64, func(u uint64) any { return u })
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case uint8:
		return int64(val), true
	case int16:
		return int64(val), true
	case uint16:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float32, float64:
		f, _ := toFloat(val)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func coerceInt(v any, lo, hi int64, conv func(int64) any) (any, bool) {
	i, ok := toInt(v)
	if !ok || i < lo || i > hi {
		return nil, false
	}
	return conv(i), true
}

func coerceUint(v any, hi uint64, conv func(uint64) any) (any, bool) {
	if u, ok := v.(uint64); ok {
		if u > hi {
			return nil, false
		}
		return conv(u), true
	}
	i, ok := toInt(v)
	if !ok || i < 0 || uint64(i) > hi {
		return nil, false
	}
	return conv(uint64(i)), true
}
