package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// WriterStats is a point in time view of one dataset writer.
type WriterStats struct {
	Connection         string
	Group              string
	Writer             string
	WriterID           uint16
	NextSequenceNumber uint16
	Sent               uint64
	KeepAlives         uint64
	Unchanged          uint64
	Dropped            uint64
	TicksSkipped       uint64
	LastError          string
}

// dataSetWriter runs publishing cycles for one writer on its own goroutine.
// The sequence number and delta frame state are only touched by that
// goroutine.
type dataSetWriter struct {
	cfg         domain.DataSetWriter
	group       *domain.WriterGroup
	connName    string
	publisherID string
	ds          *domain.PublishedDataSet

	asm    *Assembler
	enc    ports.Encoder
	tr     ports.Transport
	obs    ports.Observability
	clock  clock.Clock
	policy ports.Policy
	logs   *rate.Sometimes

	wake  chan time.Time
	busy  atomic.Bool
	ticks ports.TickQueue
	quit  chan struct{}
	done  chan struct{}

	seq         uint16
	last        []domain.DataValue
	sinceKey    uint32
	lastSent    time.Time
	metaPending bool

	sent, keepAlives, unchanged, dropped, skipped atomic.Uint64
	nextSeq                                       atomic.Uint32
	errMu                                         sync.Mutex
	lastErr                                       error
}

func newDataSetWriter(cfg domain.DataSetWriter, group *domain.WriterGroup, conn domain.Connection, ds *domain.PublishedDataSet,
	asm *Assembler, enc ports.Encoder, tr ports.Transport, ticks ports.TickQueue, obs ports.Observability, clk clock.Clock, policy ports.Policy) *dataSetWriter {
	w := &dataSetWriter{
		cfg:         cfg,
		group:       group,
		connName:    conn.Name,
		publisherID: conn.PublisherID,
		ds:          ds,
		asm:         asm,
		enc:         enc,
		tr:          tr,
		obs:         obs,
		clock:       clk,
		policy:      policy,
		logs:        &rate.Sometimes{Interval: policy.LogEvery},
		ticks:       ticks,
		wake:        make(chan time.Time, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		metaPending: cfg.MetaDataQueueName != "",
	}
	return w
}

// offer hands a tick to the writer without blocking the scheduler.
func (w *dataSetWriter) offer(t time.Time) {
	if w.ticks == nil {
		if !w.busy.CompareAndSwap(false, true) {
			w.skipped.Add(1)
			w.obs.IncCounter(ports.MetricTicksSkipped, 1, w.cfg.Name)
			return
		}
		w.wake <- t
		return
	}
	if w.ticks.Push(t) {
		w.skipped.Add(1)
		w.obs.IncCounter(ports.MetricTicksSkipped, 1, w.cfg.Name)
	}
	select {
	case w.wake <- t:
	default:
	}
}

func (w *dataSetWriter) stopping() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

func (w *dataSetWriter) run(ctx context.Context) {
	defer close(w.done)
	for {
		if w.stopping() {
			return
		}
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case t := <-w.wake:
			if w.ticks == nil {
				w.cycle(ctx, t)
				w.busy.Store(false)
				continue
			}
			for !w.stopping() && ctx.Err() == nil {
				next, ok := w.ticks.Pop()
				if !ok {
					break
				}
				w.cycle(ctx, next)
			}
		}
	}
}

// frame decides what the cycle publishes. It reports false when a delta frame
// would be empty and no keep-alive is due.
func (w *dataSetWriter) frame(snap *domain.Snapshot) bool {
	if w.cfg.KeyFrameCount <= 1 || w.last == nil || w.sinceKey+1 >= w.cfg.KeyFrameCount {
		snap.Type = domain.KeyFrame
		return true
	}
	var changed []domain.FieldValue
	for i, f := range snap.Fields {
		if !f.Value.Equal(w.last[i]) {
			changed = append(changed, f)
		}
	}
	if len(changed) > 0 {
		snap.Type = domain.DeltaFrame
		snap.Fields = changed
		return true
	}
	if w.group.KeepAliveTime > 0 && w.clock.Since(w.lastSent) >= w.group.KeepAliveTime {
		snap.Type = domain.KeepAlive
		snap.Fields = nil
		return true
	}
	return false
}

func (w *dataSetWriter) cycle(ctx context.Context, tick time.Time) {
	snap, sampleErr := w.asm.Assemble(ctx, w.ds, w.seq)
	if sampleErr != nil {
		w.logs.Do(func() {
			w.obs.LogWarn("dataset_sampled_with_bad_fields", sampleErr, w.fields()...)
		})
	}
	snap.WriterID = w.cfg.ID
	snap.WriterName = w.cfg.Name
	full := make([]domain.DataValue, len(snap.Fields))
	for i, f := range snap.Fields {
		full[i] = f.Value
	}

	if !w.frame(&snap) {
		w.unchanged.Add(1)
		w.obs.IncCounter(ports.MetricCycles, 1, w.cfg.Name, ports.ResultUnchanged)
		return
	}

	if w.metaPending {
		w.sendMetaData(ctx)
	}

	payload, err := w.enc.Encode(domain.NetworkMessage{
		PublisherID:     w.publisherID,
		WriterGroupName: w.group.Name,
		WriterGroupID:   w.group.ID,
		DataSetClassID:  w.ds.ClassID,
		Mask:            w.group.NetworkMask,
		Messages: []domain.DataSetMessage{{
			Snapshot:  snap,
			Mask:      w.cfg.Mask,
			FieldMask: w.cfg.FieldMask,
		}},
	})
	if err != nil {
		w.drop("encode", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.policy.SendTimeout)
	sendCtx = ports.WithMessageID(sendCtx, fmt.Sprintf("%s/%d/%d/%d", w.connName, w.cfg.ID, snap.SequenceNumber, tick.UnixNano()))
	err = w.tr.Send(sendCtx, w.cfg.QueueName, payload, w.cfg.QoS)
	cancel()
	w.obs.SetGauge(ports.MetricConsecutiveFailures, float64(w.tr.ConsecutiveFailures()), w.connName)
	if err != nil {
		w.metaPending = w.cfg.MetaDataQueueName != ""
		w.drop(dropReason(err), err)
		return
	}

	switch snap.Type {
	case domain.KeepAlive:
		w.keepAlives.Add(1)
		w.obs.IncCounter(ports.MetricCycles, 1, w.cfg.Name, ports.ResultKeepAlive)
	case domain.DeltaFrame:
		w.last = full
		w.sinceKey++
		w.seq++
	default:
		w.last = full
		w.sinceKey = 0
		w.seq++
	}
	if snap.Type != domain.KeepAlive {
		w.sent.Add(1)
		w.obs.IncCounter(ports.MetricCycles, 1, w.cfg.Name, ports.ResultSent)
	}
	w.lastSent = w.clock.Now()
	w.nextSeq.Store(uint32(w.seq))
	w.obs.IncCounter(ports.MetricBytesSent, float64(len(payload)), w.cfg.Name)
	w.obs.ObserveLatency(ports.MetricPublishLatency, w.clock.Since(tick).Seconds(), w.cfg.Name)
	w.obs.SetGauge(ports.MetricSequenceNumber, float64(w.seq), w.cfg.Name)
}

func (w *dataSetWriter) sendMetaData(ctx context.Context) {
	payload, err := w.enc.EncodeMetaData(domain.MetaDataMessage{
		PublisherID: w.publisherID,
		WriterID:    w.cfg.ID,
		WriterName:  w.cfg.Name,
		DataSet:     *w.ds,
	})
	if err != nil {
		w.obs.LogError("metadata_encode_failed", err, w.fields()...)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, w.policy.SendTimeout)
	defer cancel()
	if err := w.tr.Send(sendCtx, w.cfg.MetaDataQueueName, payload, w.cfg.QoS); err != nil {
		w.logs.Do(func() {
			w.obs.LogWarn("metadata_send_failed", err, w.fields()...)
		})
		return
	}
	w.metaPending = false
}

func (w *dataSetWriter) drop(reason string, err error) {
	w.dropped.Add(1)
	w.obs.IncCounter(ports.MetricMessagesDropped, 1, w.cfg.Name, reason)
	w.obs.IncCounter(ports.MetricCycles, 1, w.cfg.Name, ports.ResultDropped)
	w.errMu.Lock()
	w.lastErr = err
	w.errMu.Unlock()
	w.logs.Do(func() {
		w.obs.LogWarn("publish_dropped", err, append(w.fields(), ports.Field{Key: "reason", Value: reason})...)
	})
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, domain.ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, domain.ErrUnsupportedQoS):
		return "unsupported_qos"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "send_failed"
	}
}

func (w *dataSetWriter) fields() []ports.Field {
	return []ports.Field{
		{Key: "connection", Value: w.connName},
		{Key: "group", Value: w.group.Name},
		{Key: "writer", Value: w.cfg.Name},
	}
}

func (w *dataSetWriter) stats() WriterStats {
	s := WriterStats{
		Connection:         w.connName,
		Group:              w.group.Name,
		Writer:             w.cfg.Name,
		WriterID:           w.cfg.ID,
		NextSequenceNumber: uint16(w.nextSeq.Load()),
		Sent:               w.sent.Load(),
		KeepAlives:         w.keepAlives.Load(),
		Unchanged:          w.unchanged.Load(),
		Dropped:            w.dropped.Load(),
		TicksSkipped:       w.skipped.Load(),
	}
	w.errMu.Lock()
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	w.errMu.Unlock()
	return s
}
