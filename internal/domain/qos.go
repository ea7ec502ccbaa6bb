package domain

import (
	"fmt"
	"strings"
)

// QoS is the requested delivery guarantee of a writer.
type QoS int

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "AtMostOnce"
	case AtLeastOnce:
		return "AtLeastOnce"
	case ExactlyOnce:
		return "ExactlyOnce"
	default:
		return fmt.Sprintf("QoS(%d)", int(q))
	}
}

// ParseQoS accepts the BrokerTransportQualityOfService names plus the MQTT
// style numeric levels "0", "1" and "2". The empty string means AtMostOnce.
func ParseQoS(s string) (QoS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "atmostonce", "bestefforts", "besteffort", "0":
		return AtMostOnce, nil
	case "atleastonce", "1":
		return AtLeastOnce, nil
	case "exactlyonce", "2":
		return ExactlyOnce, nil
	default:
		return AtMostOnce, fmt.Errorf("unknown delivery guarantee %q", s)
	}
}
