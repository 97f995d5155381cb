package resend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ibs-source/queue-resender/internal/log"
)

// FlowEvent is a state change of the consumer binding reported by the broker client
type FlowEvent int

const (
	// FlowActive means this binding is the one active consumer of the queue
	FlowActive FlowEvent = iota
	// FlowInactive means another consumer became active
	FlowInactive
	// FlowDown means the binding was closed by the broker or the connection dropped
	FlowDown
	// FlowReconnecting means the client is trying to re-establish the binding
	FlowReconnecting
	// FlowReconnected means the binding was re-established, staged work is lost
	FlowReconnected
	// FlowRevoked means exclusivity was taken away
	FlowRevoked
)

func (e FlowEvent) String() string {
	switch e {
	case FlowActive:
		return "FLOW_ACTIVE"
	case FlowInactive:
		return "FLOW_INACTIVE"
	case FlowDown:
		return "FLOW_DOWN"
	case FlowReconnecting:
		return "FLOW_RECONNECTING"
	case FlowReconnected:
		return "FLOW_RECONNECTED"
	case FlowRevoked:
		return "FLOW_REVOKED"
	}
	return fmt.Sprintf("FLOW_EVENT(%d)", int(e))
}

// FlowEventHandler receives flow events. Broker backends call it from their
// own goroutines, never from the receive loop.
type FlowEventHandler interface {
	HandleFlowEvent(event FlowEvent, cause error)
}

// PublishEventHandler receives per-message publish acknowledgements
type PublishEventHandler interface {
	ResponseReceived(messageID string)
	HandleError(messageID string, err error)
}

// FlowMonitor turns any non-active flow event into an abort signal. It only
// signals: the engine owns the transaction and acts on the flag.
type FlowMonitor struct {
	queue    string
	log      *log.Logger
	teardown func()

	aborted atomic.Bool
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	err     error
}

// NewFlowMonitor creates a monitor for queue. teardown is invoked once, on
// the first abort, and must be safe to call from any goroutine.
func NewFlowMonitor(queue string, logger *log.Logger, teardown func()) *FlowMonitor {
	return &FlowMonitor{
		queue:    queue,
		log:      logger,
		teardown: teardown,
		done:     make(chan struct{}),
	}
}

// HandleFlowEvent implements FlowEventHandler
func (m *FlowMonitor) HandleFlowEvent(event FlowEvent, cause error) {
	m.log.Info("Flow event for queue %s: %s", m.queue, event)
	if event == FlowActive {
		return
	}

	m.once.Do(func() {
		err := fmt.Errorf("%w: %s on queue %s", ErrFlowAborted, event, m.queue)
		if cause != nil {
			err = fmt.Errorf("%w: %s on queue %s: %v", ErrFlowAborted, event, m.queue, cause)
		}
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		m.aborted.Store(true)
		close(m.done)

		m.log.Error("Unexpected flow event for queue %s, rolling back transaction", m.queue)
		if m.teardown != nil {
			m.teardown()
		}
	})
}

// Aborted reports whether the binding was lost
func (m *FlowMonitor) Aborted() bool {
	return m.aborted.Load()
}

// Err returns the abort cause, nil while the flow is healthy
func (m *FlowMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed on abort
func (m *FlowMonitor) Done() <-chan struct{} {
	return m.done
}

// publishEvents handles publish acknowledgements, which a transacted
// session never delivers.
type publishEvents struct {
	log *log.Logger
}

func (p publishEvents) ResponseReceived(messageID string) {
	p.log.Warn("responseReceived for message %s: should not get here", messageID)
}

func (p publishEvents) HandleError(messageID string, err error) {
	p.log.Warn("handleError for message %s: should not get here: %v", messageID, err)
}

var (
	_ FlowEventHandler    = (*FlowMonitor)(nil)
	_ PublishEventHandler = publishEvents{}
)
