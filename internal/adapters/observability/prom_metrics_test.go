package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	obs.IncCounter(ports.MetricCycles, 3, "dataSetWriter1", ports.ResultSent)
	if got := testutil.ToFloat64(obs.counters[ports.MetricCycles].WithLabelValues("dataSetWriter1", ports.ResultSent)); got != 3 {
		t.Fatalf("expected cycles counter 3, got %f", got)
	}

	obs.IncCounter(ports.MetricTicksSkipped, 1, "dataSetWriter1")
	if got := testutil.ToFloat64(obs.counters[ports.MetricTicksSkipped].WithLabelValues("dataSetWriter1")); got != 1 {
		t.Fatalf("expected skipped counter 1, got %f", got)
	}

	obs.SetGauge(ports.MetricConsecutiveFailures, 4, "Connection1")
	if got := testutil.ToFloat64(obs.gauges[ports.MetricConsecutiveFailures].WithLabelValues("Connection1")); got != 4 {
		t.Fatalf("expected failures gauge 4, got %f", got)
	}

	obs.ObserveLatency(ports.MetricPublishLatency, 0.01, "dataSetWriter1")
	if samples := testutil.CollectAndCount(obs.histos[ports.MetricPublishLatency]); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 series, got %d", samples)
	}
}

func TestPromObsIgnoresWrongLabelCount(t *testing.T) {
	obs := NewPromObs(prometheus.NewRegistry(), nil)
	obs.IncCounter(ports.MetricCycles, 1, "only-one-label")
	obs.IncCounter("unknown_metric", 1)
	if n := testutil.CollectAndCount(obs.counters[ports.MetricCycles]); n != 0 {
		t.Fatalf("expected no series, got %d", n)
	}
}

func TestPromObsSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPromObs(reg, nil)
	b := NewPromObs(reg, nil)

	a.IncCounter(ports.MetricBytesSent, 10, "w")
	b.IncCounter(ports.MetricBytesSent, 5, "w")
	if got := testutil.ToFloat64(b.counters[ports.MetricBytesSent].WithLabelValues("w")); got != 15 {
		t.Fatalf("expected shared counter 15, got %f", got)
	}
}

func TestPromObsLogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))

	obs.LogWarn("send failed", errTest, ports.Field{Key: "writer", Value: "dataSetWriter1"})
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "writer=dataSetWriter1") || !strings.Contains(out, "err=boom") {
		t.Fatalf("unexpected log output %q", out)
	}

	buf.Reset()
	obs.LogError("ignored", nil)
	if buf.Len() != 0 {
		t.Fatalf("nil error must not log, got %q", buf.String())
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
