package observability

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// PromObs exports publisher metrics to Prometheus and logs through slog.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]*prometheus.HistogramVec
}

// NewPromObs registers the publisher collectors with reg. A nil reg means the
// default registerer; a nil logger means slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &PromObs{
		logger:   logger,
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
		histos:   map[string]*prometheus.HistogramVec{},
	}

	p.counters[ports.MetricCycles] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricCycles,
		Help: "Publishing cycles per writer and outcome.",
	}, []string{"writer", "result"}))
	p.counters[ports.MetricTicksSkipped] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricTicksSkipped,
		Help: "Ticks skipped because the writer was still busy.",
	}, []string{"writer"}))
	p.counters[ports.MetricMessagesDropped] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricMessagesDropped,
		Help: "Messages dropped per writer and reason.",
	}, []string{"writer", "reason"}))
	p.counters[ports.MetricBytesSent] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricBytesSent,
		Help: "Encoded bytes handed to the transport.",
	}, []string{"writer"}))
	p.counters[ports.MetricSampleErrors] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricSampleErrors,
		Help: "Field samples that carried a bad or uncertain status.",
	}, []string{"dataset", "class"}))
	p.counters[ports.MetricReconnectExhausted] = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ports.MetricReconnectExhausted,
		Help: "Times a connection used up its reconnect budget.",
	}, []string{"connection"}))

	p.gauges[ports.MetricConsecutiveFailures] = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: ports.MetricConsecutiveFailures,
		Help: "Consecutive failed sends per connection.",
	}, []string{"connection"}))
	p.gauges[ports.MetricConnected] = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: ports.MetricConnected,
		Help: "1 when the connection is established.",
	}, []string{"connection"}))
	p.gauges[ports.MetricSequenceNumber] = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: ports.MetricSequenceNumber,
		Help: "Next sequence number per writer.",
	}, []string{"writer"}))

	p.histos[ports.MetricPublishLatency] = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    ports.MetricPublishLatency,
		Help:    "Time from tick to transport acknowledgement.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"writer"}))

	return p
}

// register returns the already registered collector when an identical one
// exists, so several runtimes can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, err error, fields ...ports.Field) {
	p.logger.Warn(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		p.logger.Error(msg, append(attrs(fields), slog.Any("err", err))...)
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		p.logger.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
	}
}

func (p *PromObs) IncCounter(name string, v float64, labels ...string) {
	if c, ok := p.counters[name]; ok {
		if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
			m.Add(v)
		}
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64, labels ...string) {
	if h, ok := p.histos[name]; ok {
		if m, err := h.GetMetricWithLabelValues(labels...); err == nil {
			m.Observe(seconds)
		}
	}
}

func (p *PromObs) SetGauge(name string, v float64, labels ...string) {
	if g, ok := p.gauges[name]; ok {
		if m, err := g.GetMetricWithLabelValues(labels...); err == nil {
			m.Set(v)
		}
	}
}

var _ ports.Observability = (*PromObs)(nil)
