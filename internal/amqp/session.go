package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/message"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// Session is a tx-mode channel
type Session struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	receiveWait time.Duration
	log         *log.Logger

	mu      sync.Mutex
	flow    *Flow
	lastTag uint64
	closing atomic.Bool
	closed  bool
}

func newSession(conn *amqp.Connection, ch *amqp.Channel, receiveWait time.Duration, logger *log.Logger) *Session {
	return &Session{conn: conn, ch: ch, receiveWait: receiveWait, log: logger}
}

// Bind starts a consumer on opts.Queue. With Exclusive set the broker refuses
// the consumer while any other consumer is attached to the queue.
func (s *Session) Bind(ctx context.Context, opts resend.BindOptions, handler resend.FlowEventHandler) (resend.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	if s.flow != nil {
		return nil, fmt.Errorf("session is already bound to queue %s", s.flow.queue)
	}

	if opts.Prefetch > 0 {
		if err := s.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set prefetch %d: %w", opts.Prefetch, err)
		}
	}

	tag := "resender-" + uuid.NewString()
	deliveries, err := s.ch.Consume(opts.Queue, tag, false, opts.Exclusive, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume from queue %s: %w", opts.Queue, err)
	}

	f := &Flow{
		s:          s,
		queue:      opts.Queue,
		tag:        tag,
		deliveries: deliveries,
		stop:       make(chan struct{}),
	}
	s.flow = f

	var connClosed <-chan *amqp.Error
	if s.conn != nil {
		connClosed = s.conn.NotifyClose(make(chan *amqp.Error, 1))
	}
	go f.watch(connClosed, s.ch.NotifyClose(make(chan *amqp.Error, 1)), s.ch.NotifyCancel(make(chan string, 1)), handler)
	handler.HandleFlowEvent(resend.FlowActive, nil)
	return f, nil
}

// CreateProducer returns a producer publishing on the session channel
func (s *Session) CreateProducer(handler resend.PublishEventHandler) (resend.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	return &Producer{s: s}, nil
}

// Commit acks every delivery received so far and commits the channel
// transaction, making the acks and the publishes effective together.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}

	tag := s.lastTag
	s.lastTag = 0
	return callContext(ctx, func() error {
		if tag > 0 {
			if err := s.ch.Ack(tag, true); err != nil {
				return fmt.Errorf("ack up to delivery %d: %w", tag, err)
			}
		}
		if err := s.ch.TxCommit(); err != nil {
			return fmt.Errorf("tx.commit: %w", err)
		}
		return nil
	})
}

// Rollback discards the publishes. The received deliveries stay unacked
// and go back to the queue once the channel closes.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}

	s.lastTag = 0
	return callContext(ctx, func() error {
		if err := s.ch.TxRollback(); err != nil {
			return fmt.Errorf("tx.rollback: %w", err)
		}
		return nil
	})
}

// Close closes the channel. An open transaction is rolled back by the broker.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closing.Store(true)

	if s.ch.IsClosed() {
		return nil
	}
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}

// callContext runs fn, giving up when ctx ends first. fn keeps running in
// the background in that case and its result is lost.
func callContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flow is a consumer on the session channel
type Flow struct {
	s          *Session
	queue      string
	tag        string
	deliveries <-chan amqp.Delivery

	stop      chan struct{}
	closeOnce sync.Once
}

// ReceiveNoWait waits at most the configured receive wait for a delivery
func (f *Flow) ReceiveNoWait(ctx context.Context) (*message.Message, error) {
	timer := time.NewTimer(f.s.receiveWait)
	defer timer.Stop()

	select {
	case d, ok := <-f.deliveries:
		if !ok {
			return nil, fmt.Errorf("consumer %s on queue %s closed", f.tag, f.queue)
		}
		f.s.mu.Lock()
		f.s.lastTag = d.DeliveryTag
		f.s.mu.Unlock()
		return decodeDelivery(d), nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watch turns connection or channel closure and server-side consumer
// cancellation into flow events. Closes we initiated ourselves are not reported.
func (f *Flow) watch(connClosed, closed <-chan *amqp.Error, cancelled <-chan string, handler resend.FlowEventHandler) {
	select {
	case <-f.stop:
		return
	case err, ok := <-connClosed:
		if !ok || err == nil || f.s.closing.Load() {
			return
		}
		handler.HandleFlowEvent(resend.FlowDown, fmt.Errorf("connection closed: %w", err))
	case err, ok := <-closed:
		if !ok || err == nil || f.s.closing.Load() {
			return
		}
		handler.HandleFlowEvent(resend.FlowDown, err)
	case tag, ok := <-cancelled:
		if !ok || f.s.closing.Load() {
			return
		}
		handler.HandleFlowEvent(resend.FlowRevoked, fmt.Errorf("consumer %s cancelled by broker", tag))
	}
}

// Close cancels the consumer. Unacked deliveries stay with the channel.
func (f *Flow) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.s.closing.Store(true)
		close(f.stop)

		f.s.mu.Lock()
		defer f.s.mu.Unlock()
		if f.s.flow == f {
			f.s.flow = nil
		}
		if f.s.closed || f.s.ch.IsClosed() {
			return
		}
		if cerr := f.s.ch.Cancel(f.tag, false); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = fmt.Errorf("cancel consumer %s: %w", f.tag, cerr)
		}
	})
	return err
}

// Producer publishes through the default exchange straight to a queue
type Producer struct {
	s *Session
}

// Send publishes msg to queue inside the channel transaction
func (p *Producer) Send(ctx context.Context, msg *message.Message, queue string) error {
	if queue == "" {
		return fmt.Errorf("send without destination queue")
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.closed {
		return fmt.Errorf("session closed")
	}
	if err := p.s.ch.PublishWithContext(ctx, "", queue, false, false, encodePublishing(msg)); err != nil {
		return fmt.Errorf("publish to queue %s: %w", queue, err)
	}
	return nil
}

// Close is a no-op; publishes belong to the session transaction
func (p *Producer) Close() error {
	return nil
}

var (
	_ resend.Session  = (*Session)(nil)
	_ resend.Flow     = (*Flow)(nil)
	_ resend.Producer = (*Producer)(nil)
)
