package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/queue-resender/internal/message"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// ErrLeaseLost is returned by Commit when the exclusive binding expired or
// was taken over before EXEC.
var ErrLeaseLost = errors.New("exclusive lease on source queue lost")

// ErrNotAQueue is returned by Commit when a target key holds something other
// than a stream. Nothing is written in that case.
var ErrNotAQueue = errors.New("target key is not a queue stream")

const (
	releaseTimeout = 5 * time.Second
	commitAttempts = 3
)

type stagedSend struct {
	queue  string
	values map[string]interface{}
}

// Session is a transacted session. Receives advance a local cursor and
// sends are buffered; both reach Redis only on Commit.
type Session struct {
	c *Client

	// mu serialises commit with lease refresh: a PEXPIRE between WATCH and
	// EXEC would fail the transaction.
	mu       sync.Mutex
	flow     *Flow
	cursor   string
	consumed []string
	staged   []stagedSend
	closed   bool
}

func newSession(c *Client) *Session {
	return &Session{c: c}
}

// Bind takes the exclusive lease on opts.Queue and starts refreshing it
func (s *Session) Bind(ctx context.Context, opts resend.BindOptions, handler resend.FlowEventHandler) (resend.Flow, error) {
	if !opts.Exclusive {
		return nil, fmt.Errorf("redis backend only supports exclusive bindings")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	if s.flow != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session is already bound to queue %s", s.flow.queue)
	}
	s.mu.Unlock()

	token := uuid.NewString()
	if err := s.c.acquireLease(ctx, opts.Queue, token); err != nil {
		return nil, err
	}

	keepCtx, stop := context.WithCancel(context.Background())
	f := &Flow{
		s:       s,
		queue:   opts.Queue,
		token:   token,
		handler: handler,
		stop:    stop,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.flow = f
	s.cursor = "-"
	s.mu.Unlock()

	s.c.log.Debug("Acquired lease on queue %s (token %s, ttl %s)", opts.Queue, token, s.c.leaseTTL)
	handler.HandleFlowEvent(resend.FlowActive, nil)
	go f.keepLease(keepCtx, refreshInterval(s.c.leaseTTL), s.c.leaseTTL)
	return f, nil
}

// CreateProducer returns a producer staging into this session
func (s *Session) CreateProducer(handler resend.PublishEventHandler) (resend.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	return &Producer{s: s}, nil
}

// Commit atomically appends the staged sends to their queues and deletes the
// consumed entries from the bound queue. The staged work is discarded
// afterwards whatever the result.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.resetLocked()

	if s.closed {
		return fmt.Errorf("session closed")
	}
	f := s.flow
	if f == nil && len(s.staged) == 0 {
		return nil
	}

	targets := s.targetKeysLocked()
	keys := targets
	if f != nil {
		keys = append([]string{s.c.leaseKey(f.queue)}, targets...)
	}

	check := func(tx *redis.Tx) error {
		if f != nil {
			owner, err := tx.Get(ctx, s.c.leaseKey(f.queue)).Result()
			if errors.Is(err, redis.Nil) || (err == nil && owner != f.token) {
				return ErrLeaseLost
			}
			if err != nil {
				return fmt.Errorf("read lease: %w", err)
			}
		}
		// EXEC does not undo earlier commands when one fails, so an XADD
		// hitting a wrong type must be caught before anything is queued.
		for _, key := range targets {
			kind, err := tx.Type(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("type of %s: %w", key, err)
			}
			if err := checkQueueType(key, kind); err != nil {
				return err
			}
		}
		return s.execLocked(ctx, tx)
	}

	// A failed EXEC wrote nothing. Writers on a target queue abort it too, so
	// retry; a lease taken over meanwhile is caught by the check above.
	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		err = s.c.rdb.Watch(ctx, check, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.c.log.Debug("Commit on queue keys %v raced a concurrent write, retrying", keys)
	}
	return fmt.Errorf("watched keys kept changing during commit: %w", err)
}

// targetKeysLocked lists the distinct stream keys of the staged sends
func (s *Session) targetKeysLocked() []string {
	seen := make(map[string]bool, len(s.staged))
	var keys []string
	for _, st := range s.staged {
		key := s.c.streamKey(st.queue)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// checkQueueType accepts a stream or a key that does not exist yet
func checkQueueType(key, kind string) error {
	switch kind {
	case "stream", "none":
		return nil
	}
	return fmt.Errorf("%w: %s holds a %s", ErrNotAQueue, key, kind)
}

// execLocked queues every staged write in one MULTI/EXEC
func (s *Session) execLocked(ctx context.Context, tx *redis.Tx) error {
	fn := func(pipe redis.Pipeliner) error {
		for _, st := range s.staged {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: s.c.streamKey(st.queue), Values: st.values})
		}
		if s.flow != nil && len(s.consumed) > 0 {
			pipe.XDel(ctx, s.c.streamKey(s.flow.queue), s.consumed...)
		}
		return nil
	}

	if _, err := tx.TxPipelined(ctx, fn); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	s.c.log.Debug("Committed %d sends and %d deletes", len(s.staged), len(s.consumed))
	return nil
}

// Rollback discards staged sends and rewinds the cursor so the consumed
// entries are redelivered.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.c.log.Debug("Rolled back %d sends and %d receives", len(s.staged), len(s.consumed))
	s.resetLocked()
	return nil
}

func (s *Session) resetLocked() {
	s.staged = nil
	s.consumed = nil
	s.cursor = "-"
}

// Close releases the binding and discards anything uncommitted
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	f := s.flow
	s.resetLocked()
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

// Flow is the exclusive consumer binding of a session
type Flow struct {
	s       *Session
	queue   string
	token   string
	handler resend.FlowEventHandler

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// ReceiveNoWait returns the next entry after the cursor, or nil when the
// queue holds no further message.
func (f *Flow) ReceiveNoWait(ctx context.Context) (*message.Message, error) {
	s := f.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.flow != f {
		return nil, fmt.Errorf("flow closed")
	}

	start := s.cursor
	if start != "-" {
		start = "(" + start
	}
	entries, err := s.c.rdb.XRangeN(ctx, s.c.streamKey(f.queue), start, "+", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange failed: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	e := entries[0]
	s.cursor = e.ID
	s.consumed = append(s.consumed, e.ID)
	return decodeEntry(e), nil
}

// keepLease refreshes the lease until stopped. Losing it is a flow event, so
// is failing to refresh it for as long as the lease lasts.
func (f *Flow) keepLease(ctx context.Context, interval, ttl time.Duration) {
	defer close(f.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastOK := time.Now()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f.s.mu.Lock()
		held, err := f.s.c.refresh(ctx, f.queue, f.token)
		f.s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			if refreshExhausted(failures, time.Since(lastOK), ttl) {
				f.handler.HandleFlowEvent(resend.FlowDown, fmt.Errorf("lease refresh failed %d times: %w", failures, err))
				return
			}
			f.s.c.log.Warn("Lease refresh on queue %s failed (%d/%d): %v", f.queue, failures, maxRefreshFailures, err)
			continue
		}
		failures = 0
		lastOK = time.Now()
		if !held {
			f.handler.HandleFlowEvent(resend.FlowRevoked, nil)
			return
		}
	}
}

// Close stops the lease keeper and releases the lease
func (f *Flow) Close() error {
	f.closeOnce.Do(func() {
		f.stop()
		<-f.done

		f.s.mu.Lock()
		if f.s.flow == f {
			f.s.flow = nil
		}
		f.s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := f.s.c.release(ctx, f.queue, f.token); err != nil {
			f.closeErr = fmt.Errorf("release lease on queue %s: %w", f.queue, err)
			return
		}
		f.s.c.log.Debug("Released lease on queue %s", f.queue)
	})
	return f.closeErr
}

// Producer stages sends in its session
type Producer struct {
	s *Session
}

// Send stages msg for queue. The entry is written on Commit.
func (p *Producer) Send(ctx context.Context, msg *message.Message, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue == "" {
		return fmt.Errorf("send without destination queue")
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.closed {
		return fmt.Errorf("session closed")
	}
	p.s.staged = append(p.s.staged, stagedSend{queue: queue, values: encodeFields(msg)})
	return nil
}

// Close is a no-op; staged sends belong to the session
func (p *Producer) Close() error {
	return nil
}

var (
	_ resend.Session  = (*Session)(nil)
	_ resend.Flow     = (*Flow)(nil)
	_ resend.Producer = (*Producer)(nil)
)
