// Package amqp implements the transacted broker on AMQP 0-9-1 (RabbitMQ).
//
// A session is one channel in tx mode. Acks and publishes on that channel
// only take effect on tx.commit; deliveries left unacked are requeued by the
// broker when the channel closes.
package amqp

import (
	"context"
	"fmt"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/queue-resender/internal/config"
	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/message"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// Connection is an established AMQP connection acting as a resend.Broker
type Connection struct {
	conn *amqp.Connection
	opts *config.AMQPConfig
	log  *log.Logger
}

// Dial connects to the broker described by cfg
func Dial(cfg *config.AMQPConfig, logger *log.Logger) (*Connection, error) {
	dc := amqp.Config{
		Vhost:     cfg.Vhost,
		Heartbeat: cfg.Heartbeat,
		Dial:      amqp.DefaultDial(cfg.DialTimeout),
	}
	if cfg.Username != "" {
		dc.SASL = []amqp.Authentication{&amqp.PlainAuth{Username: cfg.Username, Password: cfg.Password}}
	}

	conn, err := amqp.DialConfig(cfg.URL, dc)
	if err != nil {
		return nil, fmt.Errorf("amqp dial %s: %w", redactURL(cfg.URL), err)
	}

	logger.Info("Connected to AMQP broker at %s", redactURL(cfg.URL))
	return &Connection{conn: conn, opts: cfg, log: logger}, nil
}

// CreateTransactedSession implements resend.Broker
func (c *Connection) CreateTransactedSession(ctx context.Context) (resend.Session, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp open channel: %w", err)
	}
	if err := ch.Tx(); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp select tx mode: %w", err)
	}
	return newSession(c.conn, ch, c.opts.ReceiveWait, c.log), nil
}

// Enqueue publishes msg to queue through the default exchange, outside of any transaction
func (c *Connection) Enqueue(ctx context.Context, queue string, msg *message.Message) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, encodePublishing(msg)); err != nil {
		return fmt.Errorf("publish to queue %s: %w", queue, err)
	}
	return nil
}

// Depth returns the number of ready messages on queue
func (c *Connection) Depth(queue string) (int, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("amqp open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %q: %w", queue, err)
	}
	return q.Messages, nil
}

// Close closes the connection and every channel on it
func (c *Connection) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// redactURL strips the password from a broker URL for logging
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

var _ resend.Broker = (*Connection)(nil)
