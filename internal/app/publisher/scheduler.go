package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// GroupScheduler drives the writers of one writer group from a single
// ticker. Ticks are offered to writers in configuration order and never wait
// for a cycle to finish.
type GroupScheduler struct {
	key     string
	conn    string
	group   *domain.WriterGroup
	writers []*dataSetWriter
	clock   clock.Clock
	obs     ports.Observability
	grace   time.Duration
	events  ports.EventSink

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	stop    chan struct{}
	loop    chan struct{}
}

func newGroupScheduler(conn string, group *domain.WriterGroup, writers []*dataSetWriter, clk clock.Clock, obs ports.Observability, grace time.Duration, events ports.EventSink) *GroupScheduler {
	return &GroupScheduler{
		key:     domain.GroupKey(conn, group.Name),
		conn:    conn,
		events:  events,
		group:   group,
		writers: writers,
		clock:   clk,
		obs:     obs,
		grace:   grace,
		stop:    make(chan struct{}),
		loop:    make(chan struct{}),
	}
}

// Start launches the writer goroutines and the ticker. A disabled group is
// accepted but never ticks.
func (s *GroupScheduler) Start(ctx context.Context) error {
	if s.group.PublishingInterval <= 0 {
		return domain.ConfigErrorf(s.key+".publishing_interval", "must be greater than zero, got %s", s.group.PublishingInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true
	if !s.group.Enabled {
		close(s.loop)
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	for _, w := range s.writers {
		go w.run(runCtx)
	}
	ticker := s.clock.Ticker(s.group.PublishingInterval)
	go func() {
		defer close(s.loop)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case t := <-ticker.C:
				for _, w := range s.writers {
					w.offer(t)
				}
			}
		}
	}()
	s.obs.LogInfo("writer_group_started",
		ports.Field{Key: "group", Value: s.key},
		ports.Field{Key: "interval", Value: s.group.PublishingInterval.String()},
		ports.Field{Key: "writers", Value: len(s.writers)},
	)
	s.emit(domain.EventGroupStarted)
	return nil
}

// Stop halts the ticker, lets in-flight cycles finish within the grace
// period and abandons them after that. It is safe to call more than once.
func (s *GroupScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	close(s.stop)
	<-s.loop
	if !s.group.Enabled {
		return nil
	}

	for _, w := range s.writers {
		close(w.quit)
	}
	all := make(chan struct{})
	go func() {
		for _, w := range s.writers {
			<-w.done
		}
		close(all)
	}()

	grace := s.clock.Timer(s.grace)
	defer grace.Stop()
	var err error
	select {
	case <-all:
	case <-grace.C:
		s.obs.LogWarn("writer_group_stop_grace_exceeded", fmt.Errorf("abandoning in-flight cycles after %s", s.grace),
			ports.Field{Key: "group", Value: s.key})
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel()
	if err == nil {
		s.obs.LogInfo("writer_group_stopped", ports.Field{Key: "group", Value: s.key})
	}
	s.emit(domain.EventGroupStopped)
	return err
}

func (s *GroupScheduler) emit(kind domain.EventKind) {
	if s.events != nil {
		s.events(domain.Event{Kind: kind, Connection: s.conn, Group: s.group.Name, Time: s.clock.Now()})
	}
}
