package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	uapubsub "github.com/industry40tv/opc-ua-pub-sub"
)

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(uapubsub.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "writer", "w1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"writer":"w1"`) {
		t.Fatalf("expected json record, got %s", out)
	}

	if _, err := newLogger(uapubsub.LogConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Fatal("expected unknown format error")
	}
	if _, err := newLogger(uapubsub.LogConfig{Level: "loud"}, &buf); err == nil {
		t.Fatal("expected unknown level error")
	}
}

func TestFormatStats(t *testing.T) {
	body := []byte(`{
		"Connections": [{"Name": "Connection1", "State": "connected", "ConsecutiveFailures": 0}],
		"Writers": [{"Connection": "Connection1", "Group": "WriterGroup1", "Writer": "dataSetWriter1",
			"WriterID": 1, "NextSequenceNumber": 7, "Sent": 7, "KeepAlives": 0, "Unchanged": 0,
			"Dropped": 2, "TicksSkipped": 1, "LastError": "not connected"}]
	}`)
	var out bytes.Buffer
	if err := formatStats(body, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), &out); err != nil {
		t.Fatalf("formatStats returned error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"[2024-01-01T00:00:00Z]",
		"connection Connection1 state=connected failures=0",
		"writer Connection1/WriterGroup1/dataSetWriter1 seq=7 sent=7",
		"dropped=2 skipped=1",
		`last_error="not connected"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}

	if err := formatStats([]byte("<html>"), time.Now(), &out); err == nil {
		t.Fatal("expected error for non json body")
	}
}

func TestDescribeMessage(t *testing.T) {
	raw := []byte(`{"MessageId":"m1","MessageType":"ua-data","PublisherId":"urn:publisher",
		"Messages":[{"DataSetWriterId":1,"MetaDataVersion":{"MajorVersion":1,"MinorVersion":0},
		"Payload":{"SensorTemperature":{"Type":11,"Body":19.5}}}]}`)
	var out bytes.Buffer
	if err := describeMessage(raw, &out); err != nil {
		t.Fatalf("describeMessage returned error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, `publisher="urn:publisher"`) {
		t.Fatalf("missing publisher: %s", got)
	}
	if !strings.Contains(got, "dataset writer=1 seq=0 type=ua-keyframe version=1.0") {
		t.Fatalf("missing dataset header: %s", got)
	}
	if !strings.Contains(got, "SensorTemperature = 19.5 (type 11") {
		t.Fatalf("missing field: %s", got)
	}

	if err := describeMessage([]byte(`{"MessageType":"ua-metadata","Messages":[]}`), &out); err == nil {
		t.Fatal("expected error for metadata message")
	}
}

const outboxConfig = `
source:
  kind: simulation
  simulation:
    variables:
      - {node_id: "ns=1;s=Temperature", type: Double, signal: constant, offset: 19}
published_datasets:
  - name: PublishedDataSet1
    fields:
      - {name: SensorTemperature, type: Double, source: "ns=1;s=Temperature"}
connections:
  - name: Outbox1
    enabled: true
    transport_profile_uri: urn:industry40tv:pubsub:outbox-json
    address: postgres://localhost/pubsub
    writer_groups:
      - name: WriterGroup1
        publishing_interval: 1000
        qos: QOS
        writers:
          - {name: dataSetWriter1, id: 1, dataset: PublishedDataSet1, queue_name: /temperature}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidateRejectsUnsupportedTransportQoS(t *testing.T) {
	var out bytes.Buffer
	path := writeConfig(t, strings.Replace(outboxConfig, "QOS", "AtMostOnce", 1))
	err := validateFile(path, &out)
	if err == nil {
		t.Fatalf("expected outbox with AtMostOnce to be rejected, output: %s", out.String())
	}
	if !uapubsub.IsConfiguration(err) || !errors.Is(err, uapubsub.ErrUnsupportedQoS) {
		t.Fatalf("expected unsupported qos configuration error, got %v", err)
	}
	if strings.Contains(out.String(), "looks good") {
		t.Fatalf("rejected config must not be reported as good: %s", out.String())
	}

	out.Reset()
	path = writeConfig(t, strings.Replace(outboxConfig, "QOS", "AtLeastOnce", 1))
	if err := validateFile(path, &out); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if !strings.Contains(out.String(), "looks good") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
