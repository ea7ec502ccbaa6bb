package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// mqttBrokerURL converts the OPC UA style "mqtt:host:port" address and the
// mqtt:// and mqtts:// schemes into the tcp:// and ssl:// URLs paho expects.
func mqttBrokerURL(address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", fmt.Errorf("empty mqtt address")
	}
	if strings.HasPrefix(a, "mqtt:") && !strings.HasPrefix(a, "mqtt://") {
		a = "mqtt://" + strings.TrimPrefix(a, "mqtt:")
	}
	if !strings.Contains(a, "://") {
		a = "mqtt://" + a
	}
	u, err := url.Parse(a)
	if err != nil {
		return "", fmt.Errorf("mqtt address %q: %w", address, err)
	}
	var scheme, port string
	switch u.Scheme {
	case "mqtt", "tcp":
		scheme, port = "tcp", "1883"
	case "mqtts", "ssl", "tls":
		scheme, port = "ssl", "8883"
	case "ws":
		scheme, port = "ws", "80"
	case "wss":
		scheme, port = "wss", "443"
	default:
		return "", fmt.Errorf("mqtt address %q: unsupported scheme %q", address, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("mqtt address %q: missing host", address)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	return scheme + "://" + net.JoinHostPort(host, port) + u.EscapedPath(), nil
}

// natsServerURL accepts nats://, tls:// and the short "nats:host:port" form.
func natsServerURL(address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", fmt.Errorf("empty nats address")
	}
	if strings.HasPrefix(a, "nats:") && !strings.HasPrefix(a, "nats://") {
		a = "nats://" + strings.TrimPrefix(a, "nats:")
	}
	if !strings.Contains(a, "://") {
		a = "nats://" + a
	}
	u, err := url.Parse(a)
	if err != nil {
		return "", fmt.Errorf("nats address %q: %w", address, err)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return "", fmt.Errorf("nats address %q: unsupported scheme %q", address, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("nats address %q: missing host", address)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "4222")
	}
	return u.String(), nil
}

// postgresDSN accepts URL and key=value connection strings.
func postgresDSN(address string) (string, error) {
	a := strings.TrimSpace(address)
	switch {
	case a == "":
		return "", fmt.Errorf("empty outbox address")
	case strings.HasPrefix(a, "postgres://"), strings.HasPrefix(a, "postgresql://"):
		if _, err := url.Parse(a); err != nil {
			return "", fmt.Errorf("outbox address: %w", err)
		}
		return a, nil
	case strings.Contains(a, "="):
		return a, nil
	default:
		return "", fmt.Errorf("outbox address %q is neither a postgres URL nor a key=value DSN", address)
	}
}

// natsSubject maps a queue name like "/plant/line1/temperature" onto the
// dotted NATS subject "plant.line1.temperature".
func natsSubject(topic string) string {
	t := strings.Trim(topic, "/")
	return strings.ReplaceAll(t, "/", ".")
}
