// Package eventbus publishes an audit trail of keyspace mutations to
// NATS (SPEC_FULL.md domain stack). It is entirely optional and
// observational: nothing in the replication or persistence path reads
// from it, so a publish failure never affects a client's reply. The
// connection lifecycle handlers and Subscribe/Publish shape follow the
// teacher's pkg/nats/client.go; this package only publishes (the
// teacher's Subscribe path has no counterpart here, since the server is
// the sole source of truth for its own keyspace).
package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"kvsrv/internal/metrics"
)

// MutationEvent is published once per dispatched command that changed
// the dirty counter (spec.md §4.7).
type MutationEvent struct {
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	DB        int      `json:"db"`
	Timestamp int64    `json:"timestamp"`
}

const subjectMutations = "kvsrv.mutations"

// Publisher wraps a NATS connection used only to emit audit events.
type Publisher struct {
	conn    *nats.Conn
	metrics *metrics.Metrics
	logger  *log.Logger
}

// Connect dials url and returns a Publisher, or (nil, err) if NATS is
// unreachable. Callers treat a nil Publisher as "audit bus disabled"
// rather than a fatal error — spec.md never requires an event bus.
func Connect(url string, m *metrics.Metrics, logger *log.Logger) (*Publisher, error) {
	p := &Publisher{metrics: m, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.ConnectHandler(p.onConnect),
		nats.DisconnectErrHandler(p.onDisconnect),
		nats.ReconnectHandler(p.onReconnect),
		nats.ErrorHandler(p.onError),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	p.conn = conn
	m.SetEventBusConnected(true)
	return p, nil
}

func (p *Publisher) onConnect(conn *nats.Conn) {
	p.logger.Printf("eventbus: connected to %s", conn.ConnectedUrl())
	p.metrics.SetEventBusConnected(true)
}

func (p *Publisher) onDisconnect(_ *nats.Conn, err error) {
	if err != nil {
		p.logger.Printf("eventbus: disconnected with error: %v", err)
	}
	p.metrics.SetEventBusConnected(false)
}

func (p *Publisher) onReconnect(conn *nats.Conn) {
	p.logger.Printf("eventbus: reconnected to %s", conn.ConnectedUrl())
	p.metrics.SetEventBusConnected(true)
}

func (p *Publisher) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	p.logger.Printf("eventbus: error: %v", err)
}

// PublishMutation emits one MutationEvent, best-effort.
func (p *Publisher) PublishMutation(ev MutationEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordEventPublished(err)
		return
	}
	err = p.conn.Publish(subjectMutations, data)
	p.metrics.RecordEventPublished(err)
	if err != nil {
		p.logger.Printf("eventbus: publish failed: %v", err)
	}
}

// Close closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	p.conn.Close()
	p.metrics.SetEventBusConnected(false)
}
