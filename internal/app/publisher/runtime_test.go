package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/addressspace"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/encoding/jsonmsg"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/observability"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/queue"
	"github.com/industry40tv/opc-ua-pub-sub/internal/adapters/transport"
	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

const (
	topic    = "/opcuaovermqttdemo/temperature"
	interval = time.Second
	waitFor  = 2 * time.Second
	pollStep = 2 * time.Millisecond
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	clk     *clock.Mock
	mem     *addressspace.Memory
	factory *transport.Factory
	broker  *transport.Broker
	policy  ports.Policy

	mu     sync.Mutex
	events []domain.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clk: clock.NewMock()}
	h.mem = addressspace.NewMemory(h.clk)
	require.NoError(t, h.mem.Define(tempRef, ua.TypeIDDouble, 19.5))
	h.factory = transport.NewFactory(
		transport.WithClock(h.clk),
		transport.WithLogger(discardLogger()),
		transport.WithSettings(transport.Settings{ReconnectMin: 100 * time.Millisecond, ReconnectMax: 100 * time.Millisecond}),
	)
	h.broker = h.factory.Broker("loop")
	return h
}

func (h *harness) install(t *testing.T, cfg *domain.Configuration) (*Runtime, error) {
	t.Helper()
	rt, err := Install(context.Background(), cfg, h.mem, h.factory, Options{
		Clock:         h.clk,
		Observability: observability.NewLogObs(discardLogger()),
		Encoder:       jsonmsg.NewEncoder(),
		Policy:        h.policy,
		NewQueue:      func(depth int) ports.TickQueue { return queue.NewTickQueue(depth) },
		OnEvent: func(ev domain.Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
		},
	})
	if rt != nil {
		t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	}
	return rt, err
}

func (h *harness) eventKinds() []domain.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.EventKind
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func cycles(w *dataSetWriter) uint64 {
	return w.sent.Load() + w.keepAlives.Load() + w.unchanged.Load() + w.dropped.Load()
}

// step advances the clock by one publishing interval once every writer is
// idle and waits until each of them completed the resulting cycle.
func (h *harness) step(t *testing.T, rt *Runtime) {
	t.Helper()
	want := make([]uint64, len(rt.writers))
	for i, w := range rt.writers {
		require.Eventually(t, func() bool { return !w.busy.Load() }, waitFor, pollStep)
		want[i] = cycles(w) + 1
	}
	h.clk.Add(interval)
	for i, w := range rt.writers {
		require.Eventually(t, func() bool { return cycles(w) >= want[i] }, waitFor, pollStep)
	}
}

func (h *harness) decoded(t *testing.T, topic string) []*jsonmsg.Decoded {
	t.Helper()
	var out []*jsonmsg.Decoded
	for _, m := range h.broker.Messages(topic) {
		d, err := jsonmsg.Decode(m.Payload)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func scenarioConfig() *domain.Configuration {
	return &domain.Configuration{
		DataSets: []domain.PublishedDataSet{{
			Name:            "PublishedDataSet1",
			Fields:          []domain.FieldDefinition{temperatureField()},
			MetaDataVersion: domain.MetaDataVersion{Major: 1},
		}},
		Connections: []domain.Connection{{
			Name:                "Connection1",
			Enabled:             true,
			TransportProfileURI: transport.ProfileMemoryJSON,
			Address:             "loop",
			PublisherID:         "urn:publisher",
			WriterGroups: []domain.WriterGroup{{
				Name:               "WriterGroup1",
				ID:                 1,
				Enabled:            true,
				PublishingInterval: interval,
				NetworkMask:        domain.NetworkMessageMask{PublisherID: true},
				Writers: []domain.DataSetWriter{{
					ID:          1,
					Name:        "Writer1",
					DataSetName: "PublishedDataSet1",
					Enabled:     true,
					Mask:        domain.DataSetMessageMask{DataSetWriterID: true, MetaDataVersion: true},
					QueueName:   topic,
				}},
			}},
		}},
	}
}

func group(cfg *domain.Configuration) *domain.WriterGroup {
	return &cfg.Connections[0].WriterGroups[0]
}

func TestPublishesTemperatureEveryInterval(t *testing.T) {
	h := newHarness(t)
	rt, err := h.install(t, scenarioConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.step(t, rt)
	}

	msgs := h.broker.Messages(topic)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, domain.AtMostOnce, m.QoS)
		assert.Equal(t, "ua-data", gjson.GetBytes(m.Payload, "MessageType").String())
		assert.Equal(t, "urn:publisher", gjson.GetBytes(m.Payload, "PublisherId").String())
		assert.EqualValues(t, 1, gjson.GetBytes(m.Payload, "Messages.0.DataSetWriterId").Int())
		assert.EqualValues(t, 1, gjson.GetBytes(m.Payload, "Messages.0.MetaDataVersion.MajorVersion").Int())
		assert.False(t, gjson.GetBytes(m.Payload, "Messages.0.SequenceNumber").Exists())
		assert.False(t, gjson.GetBytes(m.Payload, "Messages.0.Timestamp").Exists())
		assert.Equal(t, 19.5, gjson.GetBytes(m.Payload, "Messages.0.Payload.SensorTemperature.Body").Float())
		assert.EqualValues(t, ua.TypeIDDouble, gjson.GetBytes(m.Payload, "Messages.0.Payload.SensorTemperature.Type").Int())
	}

	stats := rt.Stats()
	require.Len(t, stats.Writers, 1)
	assert.Equal(t, uint16(3), stats.Writers[0].NextSequenceNumber)
	assert.Equal(t, uint64(3), stats.Writers[0].Sent)
	require.Len(t, stats.Connections, 1)
	assert.Equal(t, domain.StateConnected, stats.Connections[0].State)
}

func TestSequenceNumbersAreContiguous(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).Writers[0].Mask.SequenceNumber = true
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		h.step(t, rt)
	}
	var seqs []uint16
	for _, d := range h.decoded(t, topic) {
		seqs = append(seqs, d.Messages[0].Snapshot.SequenceNumber)
	}
	assert.Equal(t, []uint16{0, 1, 2, 3}, seqs)
}

func TestSequenceNumberWraps(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).Writers[0].Mask.SequenceNumber = true
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	rt.writers[0].seq = 65534
	for i := 0; i < 3; i++ {
		h.step(t, rt)
	}
	var seqs []uint16
	for _, d := range h.decoded(t, topic) {
		seqs = append(seqs, d.Messages[0].Snapshot.SequenceNumber)
	}
	assert.Equal(t, []uint16{65534, 65535, 0}, seqs)
}

func TestDropsWhileDisconnectedAndResumesSequence(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).Writers[0].Mask.SequenceNumber = true
	rt, err := h.install(t, cfg)
	require.NoError(t, err)
	tr, ok := rt.Transport("Connection1")
	require.True(t, ok)

	h.step(t, rt)
	h.step(t, rt)

	h.broker.FailDials(errors.New("refused"))
	h.broker.DropConnections(errors.New("network down"))
	h.step(t, rt)
	h.step(t, rt)
	assert.Equal(t, domain.StateReconnecting, tr.State())
	assert.GreaterOrEqual(t, tr.ConsecutiveFailures(), 2)

	h.broker.FailDials(nil)
	require.Eventually(t, func() bool {
		h.clk.Add(100 * time.Millisecond)
		return tr.State() == domain.StateConnected
	}, waitFor, pollStep)
	h.step(t, rt)

	got := h.decoded(t, topic)
	require.GreaterOrEqual(t, len(got), 3)
	for i, d := range got {
		assert.Equal(t, uint16(i), d.Messages[0].Snapshot.SequenceNumber, "no gap after reconnect")
	}
	assert.Equal(t, 0, tr.ConsecutiveFailures())

	stats := rt.Stats()
	assert.GreaterOrEqual(t, stats.Writers[0].Dropped, uint64(2))
	assert.NotEmpty(t, stats.Writers[0].LastError)
	assert.Contains(t, h.eventKinds(), domain.EventConnectionLost)
	assert.Contains(t, h.eventKinds(), domain.EventReconnected)
}

func TestBusyWriterSkipsTicks(t *testing.T) {
	h := newHarness(t)
	rt, err := h.install(t, scenarioConfig())
	require.NoError(t, err)
	w := rt.writers[0]

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h.broker.SetPublishHook(func(ctx context.Context, _ transport.Message) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	h.clk.Add(interval)
	<-entered
	for i := 1; i <= 3; i++ {
		h.clk.Add(interval)
		require.Eventually(t, func() bool { return w.skipped.Load() >= uint64(i) }, waitFor, pollStep)
	}
	close(release)
	require.Eventually(t, func() bool { return w.sent.Load() == 1 && !w.busy.Load() }, waitFor, pollStep)
	h.broker.SetPublishHook(nil)

	assert.Len(t, h.broker.Messages(topic), 1)
	assert.Equal(t, uint64(3), rt.Stats().Writers[0].TicksSkipped)
}

func TestSlowWriterDoesNotDelayGroupPeers(t *testing.T) {
	const slowTopic = "/slow"
	h := newHarness(t)
	h.policy.SendTimeout = time.Hour
	cfg := scenarioConfig()
	fast := group(cfg).Writers[0]
	slow := fast
	slow.ID, slow.Name, slow.QueueName = 2, "Slow", slowTopic
	group(cfg).Writers = []domain.DataSetWriter{slow, fast}
	rt, err := h.install(t, cfg)
	require.NoError(t, err)
	slowW, fastW := rt.writers[0], rt.writers[1]
	require.Equal(t, "Slow", slowW.cfg.Name)

	release := make(chan struct{})
	h.broker.SetPublishHook(func(ctx context.Context, m transport.Message) error {
		if m.Topic != slowTopic {
			return nil
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	const ticks = 50
	for i := 1; i <= ticks; i++ {
		h.clk.Add(interval)
		require.Eventually(t, func() bool {
			return fastW.sent.Load() == uint64(i) && !fastW.busy.Load() && slowW.skipped.Load() == uint64(i-1)
		}, waitFor, pollStep, "tick %d", i)
	}
	assert.Len(t, h.broker.Messages(topic), ticks)
	assert.Empty(t, h.broker.Messages(slowTopic))
	assert.Zero(t, fastW.skipped.Load())

	close(release)
	require.Eventually(t, func() bool { return slowW.sent.Load() == 1 && !slowW.busy.Load() }, waitFor, pollStep)
	h.broker.SetPublishHook(nil)

	stats := rt.Stats()
	require.Len(t, stats.Writers, 2)
	assert.Equal(t, uint64(ticks-1), stats.Writers[0].TicksSkipped)
	assert.Equal(t, uint64(ticks), stats.Writers[1].Sent)
}

func TestCadenceFollowsPublishingInterval(t *testing.T) {
	h := newHarness(t)
	rt, err := h.install(t, scenarioConfig())
	require.NoError(t, err)
	w := rt.writers[0]

	const intervals = 20
	quarter := interval / 4
	for i := 1; i <= intervals*4; i++ {
		h.clk.Add(quarter)
		if i%4 == 0 {
			elapsed := uint64(i / 4)
			require.Eventually(t, func() bool {
				return cycles(w)+w.skipped.Load() >= elapsed && !w.busy.Load()
			}, waitFor, pollStep)
		}
	}

	n := cycles(w)
	assert.GreaterOrEqual(t, n, uint64(intervals-1))
	assert.LessOrEqual(t, n, uint64(intervals+1))
	assert.Zero(t, w.skipped.Load())
	assert.Len(t, h.broker.Messages(topic), int(n))
}

func TestQueuePolicyKeepsNewestTicks(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).BusyPolicy = domain.BusyQueue
	group(cfg).QueueDepth = 2
	rt, err := h.install(t, cfg)
	require.NoError(t, err)
	w := rt.writers[0]

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h.broker.SetPublishHook(func(ctx context.Context, _ transport.Message) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	h.clk.Add(interval)
	<-entered
	h.clk.Add(interval)
	require.Eventually(t, func() bool { return w.ticks.Len() == 1 }, waitFor, pollStep)
	h.clk.Add(interval)
	require.Eventually(t, func() bool { return w.ticks.Len() == 2 }, waitFor, pollStep)
	h.clk.Add(interval)
	require.Eventually(t, func() bool { return w.skipped.Load() == 1 }, waitFor, pollStep)

	close(release)
	require.Eventually(t, func() bool { return w.sent.Load() == 3 }, waitFor, pollStep)
	assert.Len(t, h.broker.Messages(topic), 3)
	assert.Equal(t, 0, w.ticks.Len())
}

func TestDisabledGroupAndWriterDoNotPublish(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	g := group(cfg)
	g.Writers = append(g.Writers, domain.DataSetWriter{
		ID: 2, Name: "Writer2", DataSetName: "PublishedDataSet1", QueueName: "/disabled",
	})
	cfg.Connections[0].WriterGroups = append(cfg.Connections[0].WriterGroups, domain.WriterGroup{
		Name:               "Idle",
		ID:                 2,
		PublishingInterval: interval,
		Writers: []domain.DataSetWriter{{
			ID: 3, Name: "Writer3", DataSetName: "PublishedDataSet1", Enabled: true, QueueName: "/idle",
		}},
	})
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	require.Len(t, rt.writers, 1)
	h.step(t, rt)
	h.step(t, rt)
	assert.Len(t, h.broker.Messages(topic), 2)
	assert.Empty(t, h.broker.Messages("/disabled"))
	assert.Empty(t, h.broker.Messages("/idle"))
}

func TestPartialActivation(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	cfg.DataSets = append(cfg.DataSets, domain.PublishedDataSet{
		Name:   "Broken",
		Fields: []domain.FieldDefinition{{Name: "Missing", BuiltInType: ua.TypeIDDouble, Source: "ns=1;s=Missing"}},
	})
	cfg.Connections[0].WriterGroups = append(cfg.Connections[0].WriterGroups, domain.WriterGroup{
		Name:               "BrokenGroup",
		ID:                 2,
		Enabled:            true,
		PublishingInterval: interval,
		Writers: []domain.DataSetWriter{{
			ID: 2, Name: "Writer2", DataSetName: "Broken", Enabled: true, QueueName: "/broken",
		}},
	})

	rt, err := h.install(t, cfg)
	require.Error(t, err)
	require.NotNil(t, rt)
	assert.ErrorIs(t, err, domain.ErrPartialActivation)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	var act *domain.ActivationError
	require.ErrorAs(t, err, &act)
	assert.Contains(t, act.Failed, "Connection1/BrokenGroup")
	assert.Equal(t, domain.ClassSource, domain.Classify(act.Failed["Connection1/BrokenGroup"]))

	h.step(t, rt)
	assert.Len(t, h.broker.Messages(topic), 1)
	assert.Empty(t, h.broker.Messages("/broken"))
}

func TestConfigurationErrorStartsNothing(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	cfg.Connections[0].TransportProfileURI = "urn:unknown"

	rt, err := h.install(t, cfg)
	require.Error(t, err)
	assert.Nil(t, rt)
	assert.True(t, domain.IsConfiguration(err))
	assert.Equal(t, 0, h.broker.Sessions())

	cfg = scenarioConfig()
	group(cfg).PublishingInterval = 0
	_, err = h.install(t, cfg)
	assert.True(t, domain.IsConfiguration(err))
}

func TestUnsupportedQoSIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	cfg.Connections[0].TransportProfileURI = transport.ProfileOutboxJSON
	cfg.Connections[0].Address = "postgres://localhost/db"

	_, err := h.install(t, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedQoS)
	assert.True(t, domain.IsConfiguration(err))
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	h := newHarness(t)
	rt, err := h.install(t, scenarioConfig())
	require.NoError(t, err)
	h.step(t, rt)

	require.NoError(t, rt.Stop(context.Background()))
	require.NoError(t, rt.Stop(context.Background()))
	assert.Equal(t, 0, h.broker.Sessions())

	h.clk.Add(5 * interval)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, h.broker.Messages(topic), 1)
	assert.Contains(t, h.eventKinds(), domain.EventGroupStopped)
	tr, _ := rt.Transport("Connection1")
	assert.Equal(t, domain.StateDisconnected, tr.State())
}

func TestBadFieldsArePublishedWithStatus(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).Writers[0].FieldMask = domain.FieldContentMask{StatusCode: true}
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	require.NoError(t, h.mem.SetStatus(tempRef, ua.StatusBadOutOfService))
	h.step(t, rt)

	got := h.decoded(t, topic)
	require.Len(t, got, 1)
	field := got[0].Messages[0].Snapshot.Fields[0]
	assert.Equal(t, "SensorTemperature", field.Name)
	assert.Equal(t, ua.StatusBadOutOfService, field.Value.Status)
	assert.Equal(t, 19.5, field.Value.Value)
}

func TestDeltaFramesAndKeepAlive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mem.Define("ns=1;s=Pressure", ua.TypeIDDouble, 1.0))
	cfg := scenarioConfig()
	cfg.DataSets[0].Fields = append(cfg.DataSets[0].Fields,
		domain.FieldDefinition{Name: "Pressure", BuiltInType: ua.TypeIDDouble, Source: "ns=1;s=Pressure"})
	g := group(cfg)
	g.KeepAliveTime = 2 * interval
	g.Writers[0].KeyFrameCount = 3
	g.Writers[0].Mask = domain.DataSetMessageMask{SequenceNumber: true, MessageType: true}
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	h.step(t, rt) // key
	require.NoError(t, h.mem.Write(tempRef, 20.0))
	h.step(t, rt) // delta with the temperature
	h.step(t, rt) // unchanged
	h.step(t, rt) // keep-alive
	require.NoError(t, h.mem.Write("ns=1;s=Pressure", 2.0))
	h.step(t, rt) // delta with the pressure
	h.step(t, rt) // key

	got := h.decoded(t, topic)
	require.Len(t, got, 5)
	type frame struct {
		typ    domain.MessageType
		seq    uint16
		fields []string
	}
	var frames []frame
	for _, d := range got {
		s := d.Messages[0].Snapshot
		f := frame{typ: s.Type, seq: s.SequenceNumber}
		for _, fv := range s.Fields {
			f.fields = append(f.fields, fv.Name)
		}
		frames = append(frames, f)
	}
	assert.Equal(t, []frame{
		{domain.KeyFrame, 0, []string{"SensorTemperature", "Pressure"}},
		{domain.DeltaFrame, 1, []string{"SensorTemperature"}},
		{domain.KeepAlive, 2, nil},
		{domain.DeltaFrame, 2, []string{"Pressure"}},
		{domain.KeyFrame, 3, []string{"SensorTemperature", "Pressure"}},
	}, frames)

	stats := rt.Stats().Writers[0]
	assert.Equal(t, uint64(1), stats.Unchanged)
	assert.Equal(t, uint64(1), stats.KeepAlives)
}

func TestMetaDataIsPublishedBeforeFirstMessage(t *testing.T) {
	h := newHarness(t)
	cfg := scenarioConfig()
	group(cfg).Writers[0].MetaDataQueueName = "/metadata"
	rt, err := h.install(t, cfg)
	require.NoError(t, err)

	h.step(t, rt)
	h.step(t, rt)

	all := h.broker.Messages("")
	require.Len(t, all, 3)
	assert.Equal(t, "/metadata", all[0].Topic)
	assert.Equal(t, "ua-metadata", gjson.GetBytes(all[0].Payload, "MessageType").String())
	assert.Equal(t, topic, all[1].Topic)
	assert.Equal(t, topic, all[2].Topic)
}
