package resend

import (
	"context"
	"errors"
	"sync"

	"github.com/ibs-source/queue-resender/internal/message"
)

// fakeBroker is an in-memory transacted broker with one source queue.
// Receives and sends are staged until Commit; Rollback restores both.
type fakeBroker struct {
	session    *fakeSession
	sessionErr error
}

func newFakeBroker(source ...*message.Message) *fakeBroker {
	return &fakeBroker{session: &fakeSession{source: source, delivered: map[string][]*message.Message{}}}
}

func (b *fakeBroker) CreateTransactedSession(ctx context.Context) (Session, error) {
	if b.sessionErr != nil {
		return nil, b.sessionErr
	}
	return b.session, nil
}

type fakeSession struct {
	mu sync.Mutex

	source    []*message.Message
	cursor    int
	staged    []stagedSend
	delivered map[string][]*message.Message

	bindErr     error
	producerErr error
	receiveErr  error
	sendErr     error
	commitErr   error
	rollbackErr error

	// hooks run without the lock held
	onReceive func(n int)
	onCommit  func()

	handler   FlowEventHandler
	bindOpts  BindOptions
	commits   int
	rollbacks int
	closed    []string
}

type stagedSend struct {
	queue string
	msg   *message.Message
}

func (s *fakeSession) Bind(ctx context.Context, opts BindOptions, handler FlowEventHandler) (Flow, error) {
	if s.bindErr != nil {
		return nil, s.bindErr
	}
	s.bindOpts = opts
	s.handler = handler
	handler.HandleFlowEvent(FlowActive, nil)
	return &fakeFlow{s: s}, nil
}

func (s *fakeSession) CreateProducer(handler PublishEventHandler) (Producer, error) {
	if s.producerErr != nil {
		return nil, s.producerErr
	}
	return &fakeProducer{s: s}, nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	if s.onCommit != nil {
		s.onCommit()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if s.commitErr != nil {
		s.resetLocked()
		return s.commitErr
	}
	for _, st := range s.staged {
		s.delivered[st.queue] = append(s.delivered[st.queue], st.msg)
	}
	s.source = s.source[s.cursor:]
	s.cursor = 0
	s.staged = nil
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	s.resetLocked()
	return s.rollbackErr
}

func (s *fakeSession) resetLocked() {
	s.cursor = 0
	s.staged = nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, "session")
	return nil
}

func (s *fakeSession) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.source)
}

func (s *fakeSession) deliveredTo(queue string) []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered[queue]
}

func (s *fakeSession) stagedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

type fakeFlow struct {
	s *fakeSession
}

func (f *fakeFlow) ReceiveNoWait(ctx context.Context) (*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := f.s
	s.mu.Lock()
	if s.receiveErr != nil {
		s.mu.Unlock()
		return nil, s.receiveErr
	}
	if s.cursor >= len(s.source) {
		s.mu.Unlock()
		return nil, nil
	}
	msg := s.source[s.cursor]
	s.cursor++
	n := s.cursor
	s.mu.Unlock()

	if s.onReceive != nil {
		s.onReceive(n)
	}
	return msg, nil
}

func (f *fakeFlow) Close() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.closed = append(f.s.closed, "flow")
	return nil
}

type fakeProducer struct {
	s *fakeSession
}

func (p *fakeProducer) Send(ctx context.Context, msg *message.Message, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.sendErr != nil {
		return p.s.sendErr
	}
	p.s.staged = append(p.s.staged, stagedSend{queue: queue, msg: msg})
	return nil
}

func (p *fakeProducer) Close() error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.closed = append(p.s.closed, "producer")
	return nil
}

func queued(id, queue string) *message.Message {
	return &message.Message{
		ID:          id,
		Payload:     []byte("payload-" + id),
		Destination: message.Queue(queue),
		Properties:  map[string]string{"origin": id},
	}
}

func viaTopic(id, topic string) *message.Message {
	return &message.Message{
		ID:          id,
		Payload:     []byte("payload-" + id),
		Destination: message.Topic(topic),
	}
}

var errBroker = errors.New("broker said no")

var (
	_ Broker   = (*fakeBroker)(nil)
	_ Session  = (*fakeSession)(nil)
	_ Flow     = (*fakeFlow)(nil)
	_ Producer = (*fakeProducer)(nil)
)
