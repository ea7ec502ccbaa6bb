package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

func TestCheckRejectsUnknownProfile(t *testing.T) {
	conn := memoryConnection(domain.AtMostOnce)
	conn.TransportProfileURI = "http://opcfoundation.org/UA-Profile/Transport/pubsub-amqp-json"
	err := NewFactory().Check(conn)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCheckRejectsUnsupportedQoS(t *testing.T) {
	conn := domain.Connection{
		Name:                "nats",
		TransportProfileURI: ProfileNATSJSON,
		Address:             "nats://localhost:4222",
		WriterGroups: []domain.WriterGroup{{
			Name:    "g",
			Writers: []domain.DataSetWriter{{ID: 1, Name: "w", QoS: domain.ExactlyOnce}},
		}},
	}
	err := NewFactory().Check(conn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.True(t, errors.Is(err, domain.ErrUnsupportedQoS))

	conn.Options.JetStream = true
	assert.NoError(t, NewFactory().Check(conn))
}

func TestCheckOutbox(t *testing.T) {
	conn := domain.Connection{
		Name:                "outbox",
		TransportProfileURI: ProfileOutboxJSON,
		Address:             "postgres://localhost/pubsub",
		WriterGroups: []domain.WriterGroup{{
			Name:    "g",
			Writers: []domain.DataSetWriter{{ID: 1, Name: "w", QoS: domain.AtMostOnce}},
		}},
	}
	assert.ErrorIs(t, NewFactory().Check(conn), domain.ErrUnsupportedQoS)

	conn.WriterGroups[0].Writers[0].QoS = domain.AtLeastOnce
	assert.NoError(t, NewFactory().Check(conn))

	conn.Options.OutboxTable = "pubsub; DROP TABLE x"
	assert.ErrorIs(t, NewFactory().Check(conn), domain.ErrConfiguration)
}

func TestCheckRejectsBadAddress(t *testing.T) {
	conn := memoryConnection(domain.AtMostOnce)
	conn.TransportProfileURI = ProfileMQTTJSON
	conn.Address = "http://broker"
	assert.ErrorIs(t, NewFactory().Check(conn), domain.ErrConfiguration)
}

func TestProfilesTable(t *testing.T) {
	got := Profiles()
	require.Len(t, got, 4)
	assert.Equal(t, ProfileMQTTJSON, got[0].URI)
	kinds := map[Kind]bool{}
	for _, p := range got {
		kinds[p.Kind] = true
	}
	assert.Len(t, kinds, 4)
}

func TestFactorySharesBrokerPerAddress(t *testing.T) {
	b := NewBroker()
	f := NewFactory(WithBroker("loop", b))
	assert.Same(t, b, f.Broker("loop"))
	assert.NotSame(t, b, f.Broker("other"))
}
