package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, err error, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	// labels are matched positionally against the metric's label names.
	IncCounter(name string, v float64, labels ...string)
	ObserveLatency(name string, seconds float64, labels ...string)
	SetGauge(name string, v float64, labels ...string)
}

type Field struct {
	Key   string
	Value any
}

const (
	MetricCycles              = "uapub_cycles_total"                   // writer, result
	MetricTicksSkipped        = "uapub_ticks_skipped_total"            // writer
	MetricMessagesDropped     = "uapub_messages_dropped_total"         // writer, reason
	MetricBytesSent           = "uapub_bytes_sent_total"               // writer
	MetricSampleErrors        = "uapub_sample_errors_total"            // dataset, class
	MetricReconnectExhausted  = "uapub_reconnect_exhausted_total"      // connection
	MetricConsecutiveFailures = "uapub_transport_consecutive_failures" // connection
	MetricConnected           = "uapub_transport_connected"            // connection
	MetricSequenceNumber      = "uapub_writer_sequence_number"         // writer
	MetricPublishLatency      = "uapub_publish_latency_seconds"        // writer
)

// Cycle results.
const (
	ResultSent      = "sent"
	ResultKeepAlive = "keepalive"
	ResultUnchanged = "unchanged"
	ResultDropped   = "dropped"
)
