package domain

import (
	"math"
	"testing"

	"github.com/gopcua/opcua/ua"
)

func TestParseBuiltInType(t *testing.T) {
	id, err := ParseBuiltInType("double")
	if err != nil || id != ua.TypeIDDouble {
		t.Fatalf("got %v, %v", id, err)
	}
	if BuiltInTypeName(ua.TypeIDUint16) != "UInt16" {
		t.Fatalf("name = %s", BuiltInTypeName(ua.TypeIDUint16))
	}
	if _, err := ParseBuiltInType("ExtensionObject"); err == nil {
		t.Fatal("expected unsupported type")
	}
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		in   any
		typ  ua.TypeID
		want any
		ok   bool
	}{
		{19.5, ua.TypeIDDouble, 19.5, true},
		{int32(7), ua.TypeIDDouble, 7.0, true},
		{7.0, ua.TypeIDInt32, int32(7), true},
		{7.5, ua.TypeIDInt32, nil, false},
		{300, ua.TypeIDByte, nil, false},
		{int64(-1), ua.TypeIDUint32, nil, false},
		{uint64(math.MaxUint64), ua.TypeIDUint64, uint64(math.MaxUint64), true},
		{uint64(math.MaxUint64), ua.TypeIDInt64, nil, false},
		{"x", ua.TypeIDDouble, nil, false},
		{true, ua.TypeIDBoolean, true, true},
		{1e300, ua.TypeIDFloat, nil, false},
		{math.Inf(1), ua.TypeIDFloat, float32(math.Inf(1)), true},
	}
	for _, c := range cases {
		got, ok := Coerce(c.in, c.typ)
		if ok != c.ok {
			t.Fatalf("Coerce(%v, %v) ok = %v", c.in, c.typ, ok)
		}
		if ok && got != c.want {
			t.Fatalf("Coerce(%v, %v) = %#v want %#v", c.in, c.typ, got, c.want)
		}
	}
}

func TestSnapshotStatusFold(t *testing.T) {
	s := Snapshot{Fields: []FieldValue{
		{Name: "a", Value: DataValue{Status: StatusGood}},
		{Name: "b", Value: DataValue{Status: StatusUncertain}},
		{Name: "c", Value: DataValue{Status: StatusSourceUnavailable}},
	}}
	if got := s.Status(); got != StatusSourceUnavailable {
		t.Fatalf("status = %v", got)
	}
	s.Fields = s.Fields[:2]
	if got := s.Status(); got != StatusUncertain {
		t.Fatalf("status = %v", got)
	}
}

func TestStatusGoodIsOPCUAGood(t *testing.T) {
	if StatusGood != ua.StatusOK || !IsGood(StatusGood) {
		t.Fatalf("StatusGood = %v", StatusGood)
	}
	if IsGood(StatusUncertain) || !IsUncertain(StatusUncertain) || !IsBad(StatusTypeMismatch) {
		t.Fatal("severity helpers disagree with the status constants")
	}
}

func TestDataValueEqualTreatsNaNAsUnchanged(t *testing.T) {
	nan := DataValue{Type: ua.TypeIDDouble, Value: math.NaN()}
	if !nan.Equal(DataValue{Type: ua.TypeIDDouble, Value: math.NaN()}) {
		t.Fatal("NaN must equal NaN")
	}
	f32 := DataValue{Type: ua.TypeIDFloat, Value: float32(math.NaN())}
	if !f32.Equal(DataValue{Type: ua.TypeIDFloat, Value: float32(math.NaN())}) {
		t.Fatal("float32 NaN must equal NaN")
	}
	if nan.Equal(DataValue{Type: ua.TypeIDDouble, Value: 1.0}) {
		t.Fatal("NaN must differ from a number")
	}
	if nan.Equal(DataValue{Type: ua.TypeIDDouble, Value: math.NaN(), Status: StatusTypeMismatch}) {
		t.Fatal("status changes must still be reported")
	}
	arr := DataValue{Type: ua.TypeIDDouble, Value: []float64{1, math.NaN()}}
	if !arr.Equal(DataValue{Type: ua.TypeIDDouble, Value: []float64{1, math.NaN()}}) {
		t.Fatal("arrays holding NaN must compare equal")
	}
	if !(DataValue{Type: ua.TypeIDString, Value: "x"}).Equal(DataValue{Type: ua.TypeIDString, Value: "x"}) {
		t.Fatal("strings must compare by value")
	}
}

func TestDeriveMetaDataVersion(t *testing.T) {
	a := []FieldDefinition{{Name: "SensorTemperature", BuiltInType: ua.TypeIDDouble}}
	b := []FieldDefinition{{Name: "SensorTemperature", BuiltInType: ua.TypeIDFloat}}
	va, vb := DeriveMetaDataVersion(a), DeriveMetaDataVersion(b)
	if va != DeriveMetaDataVersion(a) {
		t.Fatal("version must be deterministic")
	}
	if va.Major == vb.Major {
		t.Fatal("type change must change the major version")
	}
	if va.Minor != vb.Minor {
		t.Fatal("minor version only covers names")
	}
}
