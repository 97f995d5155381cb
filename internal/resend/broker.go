package resend

import (
	"context"
	"fmt"

	"github.com/ibs-source/queue-resender/internal/message"
)

// Broker is an established, authenticated broker connection
type Broker interface {
	CreateTransactedSession(ctx context.Context) (Session, error)
}

// BindOptions describe the consumer binding to the source queue
type BindOptions struct {
	Queue string
	// Exclusive requests that the broker allows at most one active consumer
	Exclusive bool
	// Prefetch is a hint of how many messages the run wants
	Prefetch int
}

// Session is a transactional context shared by one consumer binding and one producer
type Session interface {
	Bind(ctx context.Context, opts BindOptions, handler FlowEventHandler) (Flow, error)
	CreateProducer(handler PublishEventHandler) (Producer, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// Flow is a consumer binding. ReceiveNoWait returns nil, nil when no message
// is available; it never waits indefinitely.
type Flow interface {
	ReceiveNoWait(ctx context.Context) (*message.Message, error)
	Close() error
}

// Producer stages sends inside the session's transaction
type Producer interface {
	Send(ctx context.Context, msg *message.Message, queue string) error
	Close() error
}

// resources is the single set of broker handles owned by one run
type resources struct {
	session  Session
	flow     Flow
	producer Producer
	closed   bool
}

// acquire opens the session, the exclusive binding and the producer. On
// failure everything opened so far is released before returning.
func acquire(ctx context.Context, b Broker, opts BindOptions, flowHandler FlowEventHandler, pubHandler PublishEventHandler) (*resources, error) {
	session, err := b.CreateTransactedSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create transacted session: %v", ErrBind, err)
	}
	r := &resources{session: session}

	flow, err := session.Bind(ctx, opts, flowHandler)
	if err != nil {
		_ = r.release()
		return nil, fmt.Errorf("%w: bind to queue %s: %v", ErrBind, opts.Queue, err)
	}
	r.flow = flow

	producer, err := session.CreateProducer(pubHandler)
	if err != nil {
		_ = r.release()
		return nil, fmt.Errorf("%w: create producer: %v", ErrBind, err)
	}
	r.producer = producer
	return r, nil
}

// release closes consumer binding, producer and session in that order.
// It is safe to call more than once.
func (r *resources) release() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.flow != nil {
		keep(r.flow.Close())
		r.flow = nil
	}
	if r.producer != nil {
		keep(r.producer.Close())
		r.producer = nil
	}
	if r.session != nil {
		keep(r.session.Close())
		r.session = nil
	}
	return firstErr
}
