package ports

import "time"

// TickQueue buffers pending publishing ticks for one writer.
type TickQueue interface {
	// Push appends a tick. It reports true when the oldest tick was evicted
	// to make room.
	Push(t time.Time) bool
	Pop() (time.Time, bool)
	Len() int
}
