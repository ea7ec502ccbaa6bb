package transport

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	// postgres driver for the outbox
	_ "github.com/lib/pq"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// outboxDriver appends messages to a table that a relay forwards to the
// actual broker. ExactlyOnce rows carry a digest and are inserted with
// ON CONFLICT DO NOTHING; AtLeastOnce rows leave it NULL.
type outboxDriver struct {
	dsn   string
	table string
	// shared is set when the database handle is owned by the caller.
	shared *sql.DB

	mu     sync.Mutex
	db     *sql.DB
	lost   func(error)
	schema bool
}

func newOutboxDriver(dsn, table string, shared *sql.DB) *outboxDriver {
	return &outboxDriver{dsn: dsn, table: table, shared: shared}
}

func (d *outboxDriver) createTableSQL() string {
	return "CREATE TABLE IF NOT EXISTS " + d.table + " (" +
		"id BIGSERIAL PRIMARY KEY, " +
		"topic TEXT NOT NULL, " +
		"digest TEXT, " +
		"payload BYTEA NOT NULL, " +
		"qos SMALLINT NOT NULL, " +
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now(), " +
		"UNIQUE (topic, digest))"
}

func (d *outboxDriver) insertSQL(qos domain.QoS) string {
	q := "INSERT INTO " + d.table + " (topic, digest, payload, qos) VALUES ($1,$2,$3,$4)"
	if qos == domain.ExactlyOnce {
		q += " ON CONFLICT (topic, digest) DO NOTHING"
	}
	return q
}

func (d *outboxDriver) dial(ctx context.Context, lost func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil && d.shared == nil {
		_ = d.db.Close()
		d.db = nil
	}
	db := d.shared
	if db == nil {
		var err error
		if db, err = sql.Open("postgres", d.dsn); err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		if d.shared == nil {
			_ = db.Close()
		}
		return fmt.Errorf("ping outbox: %w", err)
	}
	if !d.schema {
		if _, err := db.ExecContext(ctx, d.createTableSQL()); err != nil {
			if d.shared == nil {
				_ = db.Close()
			}
			return fmt.Errorf("create outbox table: %w", err)
		}
		d.schema = true
	}
	d.db = db
	d.lost = lost
	return nil
}

func (d *outboxDriver) publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	d.mu.Lock()
	db, lost := d.db, d.lost
	d.mu.Unlock()
	if db == nil {
		return fmt.Errorf("outbox not open")
	}

	var digest any
	if qos == domain.ExactlyOnce {
		digest = dedupID(ctx, topic, payload)
	}
	if _, err := db.ExecContext(ctx, d.insertSQL(qos), topic, digest, payload, int16(qos)); err != nil {
		// A failed ping means the database went away rather than the row
		// being rejected.
		if ctx.Err() != nil {
			return err
		}
		if pingErr := db.PingContext(ctx); pingErr != nil && lost != nil {
			lost(pingErr)
		}
		return err
	}
	return nil
}

func (d *outboxDriver) close(context.Context) error {
	d.mu.Lock()
	db := d.db
	d.db, d.lost = nil, nil
	d.mu.Unlock()
	if db == nil || d.shared != nil {
		return nil
	}
	return db.Close()
}
