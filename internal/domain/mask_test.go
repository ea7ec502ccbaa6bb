package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseDataSetMessageMaskNames(t *testing.T) {
	m, err := ParseDataSetMessageMask([]string{"DataSetWriterId", "metadataversion", "None"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := DataSetMessageMask{DataSetWriterID: true, MetaDataVersion: true}
	if m != want {
		t.Fatalf("got %+v want %+v", m, want)
	}
	if got := m.Bits(); got != 0x3 {
		t.Fatalf("bits = 0x%x", got)
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"DataSetWriterId", "MetaDataVersion"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestParseMaskRejectsUnknownName(t *testing.T) {
	if _, err := ParseDataSetMessageMask([]string{"SequenceNumber", "Bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if _, err := ParseNetworkMessageMask([]string{"PublisherID2"}); err == nil {
		t.Fatal("expected error for unknown network flag")
	}
}

func TestMaskFromBitsRejectsUnknownBits(t *testing.T) {
	if _, err := FieldContentMaskFromBits(1 << 3); err == nil {
		t.Fatal("picosecond bit must be rejected")
	}
	m, err := FieldContentMaskFromBits(0x7)
	if err != nil {
		t.Fatalf("bits: %v", err)
	}
	if !m.StatusCode || !m.SourceTimestamp || !m.ServerTimestamp || m.RawData {
		t.Fatalf("unexpected mask %+v", m)
	}
	if _, err := DataSetMessageMaskFromBits(1 << 9); err == nil {
		t.Fatal("expected error for bit 9")
	}
}

func TestMaskBitsRoundTrip(t *testing.T) {
	for v := uint32(0); v < 1<<7; v++ {
		m, err := NetworkMessageMaskFromBits(v)
		if err != nil {
			t.Fatalf("bits 0x%x: %v", v, err)
		}
		if m.Bits() != v {
			t.Fatalf("0x%x -> 0x%x", v, m.Bits())
		}
	}
}

func TestFieldContentMaskValidate(t *testing.T) {
	if err := (FieldContentMask{RawData: true}).Validate(); err != nil {
		t.Fatalf("raw only: %v", err)
	}
	if err := (FieldContentMask{RawData: true, StatusCode: true}).Validate(); err == nil {
		t.Fatal("raw+status must be rejected")
	}
}

func TestHeaderPresence(t *testing.T) {
	var nm NetworkMessageMask
	if nm.HeaderPresent() {
		t.Fatal("empty mask has no header")
	}
	nm.PublisherID = true
	if !nm.HeaderPresent() {
		t.Fatal("publisher id implies the network header")
	}
	if nm.DataSetHeaderPresent(DataSetMessageMask{}) {
		t.Fatal("no dataset header without flags")
	}
	if !nm.DataSetHeaderPresent(DataSetMessageMask{SequenceNumber: true}) {
		t.Fatal("sequence number implies dataset header")
	}
}

func TestQoSParse(t *testing.T) {
	cases := map[string]QoS{"": AtMostOnce, "AtLeastOnce": AtLeastOnce, "2": ExactlyOnce, "bestEffort": AtMostOnce}
	for in, want := range cases {
		got, err := ParseQoS(in)
		if err != nil || got != want {
			t.Fatalf("ParseQoS(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseQoS("sometimes"); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigErrorMatching(t *testing.T) {
	err := ConfigErrorf("connections[0].address", "bad %s", "address")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("config error must match ErrConfiguration")
	}
	if !IsConfiguration(err) || IsTransient(err) {
		t.Fatal("wrong classification")
	}
	want := "invalid pubsub configuration: connections[0].address: bad address"
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
	if Classify(ErrNotConnected) != ClassTransport || !IsTransient(ErrNotConnected) {
		t.Fatal("not connected is a transient transport error")
	}
	if Classify(ErrStaleData) != ClassSource {
		t.Fatal("stale data is a source error")
	}
}

func TestActivationError(t *testing.T) {
	err := &ActivationError{Failed: map[string]error{"c/b": ErrSourceUnavailable, "c/a": errors.New("x")}}
	if !errors.Is(err, ErrPartialActivation) {
		t.Fatal("must match ErrPartialActivation")
	}
	want := "some writer groups failed to activate; c/a: x; c/b: source unavailable"
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
}
