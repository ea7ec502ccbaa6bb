package transport

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

func outboxConnection(qos domain.QoS) domain.Connection {
	return domain.Connection{
		Name:                "outbox",
		TransportProfileURI: ProfileOutboxJSON,
		Address:             "postgres://localhost/pubsub",
		Options:             domain.TransportOptions{OutboxTable: "pubsub_outbox"},
		WriterGroups: []domain.WriterGroup{{
			Name:    "g",
			Writers: []domain.DataSetWriter{{ID: 1, Name: "w", QoS: qos}},
		}},
	}
}

const createOutbox = "CREATE TABLE IF NOT EXISTS pubsub_outbox (id BIGSERIAL PRIMARY KEY, topic TEXT NOT NULL, digest TEXT, payload BYTEA NOT NULL, qos SMALLINT NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now(), UNIQUE (topic, digest))"

func TestOutboxAtLeastOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	f := NewFactory(WithDB("postgres://localhost/pubsub", db))
	tr, err := f.Open(outboxConnection(domain.AtLeastOnce), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(createOutbox)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pubsub_outbox (topic, digest, payload, qos) VALUES ($1,$2,$3,$4)")).
		WithArgs("/plant/temperature", nil, []byte(`{"a":1}`), int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Send(ctx, "/plant/temperature", []byte(`{"a":1}`), domain.AtLeastOnce); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOutboxExactlyOnceUsesDedupID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	f := NewFactory(WithDB("postgres://localhost/pubsub", db))
	tr, err := f.Open(outboxConnection(domain.ExactlyOnce), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(createOutbox)).WillReturnResult(sqlmock.NewResult(0, 0))
	insert := regexp.QuoteMeta("INSERT INTO pubsub_outbox (topic, digest, payload, qos) VALUES ($1,$2,$3,$4) ON CONFLICT (topic, digest) DO NOTHING")
	mock.ExpectExec(insert).WithArgs("t", "1/7/42", []byte("x"), int64(2)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WithArgs("t", "1/7/42", []byte("x"), int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sendCtx := WithDedupID(ctx, "1/7/42")
	for i := 0; i < 2; i++ {
		if err := tr.Send(sendCtx, "t", []byte("x"), domain.ExactlyOnce); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOutboxLostDatabaseStartsReconnect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	f := NewFactory(WithDB("postgres://localhost/pubsub", db))
	tr, err := f.Open(outboxConnection(domain.AtLeastOnce), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta(createOutbox)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO pubsub_outbox").WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err = tr.Send(ctx, "t", []byte("x"), domain.AtLeastOnce)
	if !errors.Is(err, domain.ErrSendFailed) {
		t.Fatalf("expected send failure, got %v", err)
	}
	if tr.State() != domain.StateReconnecting {
		t.Fatalf("expected reconnecting, got %s", tr.State())
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
