package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

var errMQTTNotConnected = errors.New("mqtt client not connected")

type mqttDriver struct {
	brokerURL string
	opts      domain.TransportOptions

	mu      sync.Mutex
	client  mqtt.Client
	closing *atomic.Bool
}

func newMQTTDriver(brokerURL string, opts domain.TransportOptions) *mqttDriver {
	if opts.ClientID == "" {
		opts.ClientID = "uapub-" + uuid.NewString()[:8]
	}
	return &mqttDriver{brokerURL: brokerURL, opts: opts}
}

func (d *mqttDriver) clientOptions(timeout time.Duration, lost func(error), closing *atomic.Bool) *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(d.brokerURL).
		SetClientID(d.opts.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		// reconnects are driven by Connection
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(timeout).
		SetWriteTimeout(timeout)
	if d.opts.KeepAlive > 0 {
		o.SetKeepAlive(d.opts.KeepAlive)
	}
	if d.opts.Username != "" {
		o.SetUsername(d.opts.Username)
		o.SetPassword(d.opts.Password)
	}
	if strings.HasPrefix(d.brokerURL, "ssl://") || strings.HasPrefix(d.brokerURL, "wss://") {
		o.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if !closing.Load() {
			lost(err)
		}
	})
	return o
}

func (d *mqttDriver) dial(ctx context.Context, lost func(error)) error {
	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	closing := &atomic.Bool{}
	client := mqtt.NewClient(d.clientOptions(timeout, lost, closing))
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		closing.Store(true)
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return err
	}

	d.mu.Lock()
	d.client = client
	d.closing = closing
	d.mu.Unlock()
	return nil
}

func (d *mqttDriver) publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return errMQTTNotConnected
	}
	tok := client.Publish(topic, byte(qos), false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *mqttDriver) close(context.Context) error {
	d.mu.Lock()
	client, closing := d.client, d.closing
	d.client, d.closing = nil, nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	closing.Store(true)
	client.Disconnect(250)
	return nil
}
