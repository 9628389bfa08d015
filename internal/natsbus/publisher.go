// Package natsbus mirrors campus presence snapshots onto a NATS subject.
package natsbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

type Publisher struct {
	conn    Conn
	subject string
}

func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Connect dials url and returns a publisher bound to subject. The connection reconnects
// forever in the background; publishes made while disconnected are buffered by the client.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("campus-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	slog.Info("connected to nats", "url", nc.ConnectedUrl(), "subject", subject)
	return NewPublisher(nc, subject), nil
}

func (p *Publisher) Publish(data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending publishes before closing the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
