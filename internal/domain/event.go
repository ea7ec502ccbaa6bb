package domain

import "time"

// ConnectionState is the lifecycle state of a transport connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectionLost
	EventReconnected
	EventReconnectExhausted
	EventGroupStarted
	EventGroupStopped
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnected:
		return "reconnected"
	case EventReconnectExhausted:
		return "reconnect_exhausted"
	case EventGroupStarted:
		return "group_started"
	case EventGroupStopped:
		return "group_stopped"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification emitted by connections and schedulers.
type Event struct {
	Kind       EventKind
	Connection string
	Group      string
	Time       time.Time
	Err        error
}
