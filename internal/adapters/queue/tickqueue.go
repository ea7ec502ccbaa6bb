package queue

import (
	"sync"
	"time"

	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// TickQueue is a bounded FIFO of publishing ticks. When full, the oldest tick
// is evicted so that the most recent demand is always kept.
type TickQueue struct {
	mu   sync.Mutex
	data []time.Time
	cap  int
}

func NewTickQueue(capacity int) *TickQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickQueue{
		data: make([]time.Time, 0, capacity),
		cap:  capacity,
	}
}

func (q *TickQueue) Push(t time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := false
	if len(q.data) >= q.cap {
		q.data = append(q.data[:0], q.data[1:]...)
		evicted = true
	}
	q.data = append(q.data, t)
	return evicted
}

func (q *TickQueue) Pop() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return time.Time{}, false
	}
	t := q.data[0]
	q.data = append(q.data[:0], q.data[1:]...)
	return t, true
}

func (q *TickQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.TickQueue = (*TickQueue)(nil)
