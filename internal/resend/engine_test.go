package resend

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/queue-resender/internal/config"
	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/message"
)

func testResendConfig(count int) *config.ResendConfig {
	return &config.ResendConfig{
		FromQueue:     "Q1",
		ToQueue:       "Q2",
		Count:         count,
		MessageTTL:    0,
		DMQEligible:   true,
		DeliveryMode:  "persistent",
		CommitTimeout: time.Second,
	}
}

func newTestEngine(t *testing.T, b Broker, cfg *config.ResendConfig) (*Engine, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	e, err := New(b, cfg, log.NewWithWriter(&buf, "debug"))
	require.NoError(t, err)
	return e, &buf
}

func TestNew_InvalidDeliveryMode(t *testing.T) {
	cfg := testResendConfig(1)
	cfg.DeliveryMode = "guaranteed"

	_, err := New(newFakeBroker(), cfg, log.NewWithWriter(&bytes.Buffer{}, "info"))
	assert.Error(t, err)
}

func TestRun_CommitsFullBatch(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q2"), queued("3", "Q2"), queued("4", "Q2"))
	e, buf := newTestEngine(t, b, testResendConfig(3))

	out := e.Run(context.Background())

	require.Equal(t, Committed, out.Result, out.Summary())
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, 3, out.Received)
	assert.Equal(t, 3, out.Sent)
	assert.Empty(t, out.Warnings)

	s := b.session
	assert.Equal(t, 1, s.commits)
	assert.Equal(t, 0, s.rollbacks)
	assert.Len(t, s.deliveredTo("Q2"), 3)
	assert.Equal(t, 1, s.remaining(), "the fourth message stays on the source queue")

	assert.Equal(t, BindOptions{Queue: "Q1", Exclusive: true, Prefetch: 3}, s.bindOpts)
	assert.Contains(t, buf.String(), "Operation successfully completed.")
}

func TestRun_ClonesWithOverrides(t *testing.T) {
	orig := queued("1", "Q2")
	orig.DeliveryMode = message.Direct
	orig.TimeToLive = time.Minute
	orig.DMQEligible = true
	b := newFakeBroker(orig)

	cfg := testResendConfig(1)
	cfg.MessageTTL = 1500 * time.Millisecond
	cfg.DMQEligible = false
	cfg.DeliveryMode = "non-persistent"
	e, _ := newTestEngine(t, b, cfg)

	out := e.Run(context.Background())
	require.Equal(t, Committed, out.Result, out.Summary())

	got := b.session.deliveredTo("Q2")
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, []byte("payload-1"), m.Payload)
	assert.Equal(t, message.NonPersistent, m.DeliveryMode)
	assert.Equal(t, 1500*time.Millisecond, m.TimeToLive)
	assert.False(t, m.DMQEligible)
	assert.Equal(t, "Q2", m.Destination.Name)
	assert.Equal(t, "1", m.Properties["origin"])
	assert.Equal(t, "Q1", m.Properties[PropResentFrom])
	assert.Equal(t, e.RunID(), m.Properties[PropResendRun])
	assert.Equal(t, e.RunID(), out.RunID)

	assert.NotSame(t, orig, m)
	assert.Equal(t, message.Direct, orig.DeliveryMode, "received message is left untouched")
}

func TestRun_DestinationMismatchRollsBack(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q3"), queued("3", "Q2"))
	e, buf := newTestEngine(t, b, testResendConfig(3))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, ErrDestinationMismatch)
	assert.Equal(t, "destination-mismatch", out.Reason())
	assert.Equal(t, 1, out.ExitCode())
	assert.Equal(t, 2, out.Received, "message 3 is never read")
	assert.Equal(t, 1, out.Sent)

	s := b.session
	assert.Equal(t, 0, s.commits)
	assert.Equal(t, 1, s.rollbacks)
	assert.Empty(t, s.deliveredTo("Q2"))
	assert.Equal(t, 3, s.remaining())
	assert.Equal(t, 0, s.stagedCount())
	assert.Contains(t, buf.String(), "Operation failed.")
}

func TestRun_ForceOverridesMismatch(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q3"))
	cfg := testResendConfig(2)
	cfg.Force = true
	e, _ := newTestEngine(t, b, cfg)

	out := e.Run(context.Background())

	require.Equal(t, Committed, out.Result, out.Summary())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "Q3")
	assert.Len(t, b.session.deliveredTo("Q2"), 2)
}

func TestRun_TopicDeliveredIsNeverRejected(t *testing.T) {
	b := newFakeBroker(viaTopic("1", "orders/created"), viaTopic("2", "orders/updated"))
	e, _ := newTestEngine(t, b, testResendConfig(2))

	out := e.Run(context.Background())

	require.Equal(t, Committed, out.Result, out.Summary())
	assert.Empty(t, out.Warnings)
	assert.Len(t, b.session.deliveredTo("Q2"), 2)
}

func TestRun_ReceiveShortfallRollsBack(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q2"))
	e, _ := newTestEngine(t, b, testResendConfig(3))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, ErrReceiveShortfall)
	assert.Equal(t, "receive-shortfall", out.Reason())
	assert.Equal(t, 2, out.Received)
	assert.Equal(t, 2, out.Sent)
	assert.Equal(t, 0, b.session.commits)
	assert.Equal(t, 1, b.session.rollbacks)
	assert.Empty(t, b.session.deliveredTo("Q2"))
	assert.Equal(t, 2, b.session.remaining())
}

func TestRun_NOPRollsBack(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q2"))
	cfg := testResendConfig(2)
	cfg.NOP = true
	e, _ := newTestEngine(t, b, cfg)

	out := e.Run(context.Background())

	assert.Equal(t, RolledBack, out.Result)
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, 2, out.Sent)
	assert.Equal(t, 0, b.session.commits)
	assert.Equal(t, 1, b.session.rollbacks)
	assert.Empty(t, b.session.deliveredTo("Q2"))
	assert.Equal(t, 2, b.session.remaining())
}

func TestRun_NOPRollbackFailure(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	b.session.rollbackErr = errBroker
	cfg := testResendConfig(1)
	cfg.NOP = true
	e, _ := newTestEngine(t, b, cfg)

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, errBroker)
}

func TestRun_FlowAbortMidBatch(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q2"), queued("3", "Q2"))
	s := b.session
	s.onReceive = func(n int) {
		if n == 2 {
			s.handler.HandleFlowEvent(FlowDown, errors.New("connection reset"))
		}
	}
	e, _ := newTestEngine(t, b, testResendConfig(3))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, ErrFlowAborted)
	assert.Equal(t, "flow-aborted", out.Reason())
	assert.Equal(t, 1, out.Sent)
	assert.Equal(t, 0, s.commits)
	assert.Equal(t, 1, s.rollbacks)
	assert.Empty(t, s.deliveredTo("Q2"))
	assert.Equal(t, 3, s.remaining())
}

func TestRun_FlowLostDuringCommitKeepsCommit(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	s := b.session
	s.onCommit = func() { s.handler.HandleFlowEvent(FlowRevoked, nil) }
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(context.Background())

	assert.Equal(t, Committed, out.Result)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "FLOW_REVOKED")
	assert.Equal(t, 1, s.commits)
	assert.Equal(t, 0, s.rollbacks)
	assert.Len(t, s.deliveredTo("Q2"), 1)
}

func TestRun_CommitErrorIsUnconfirmed(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"), queued("2", "Q2"))
	b.session.commitErr = errBroker
	e, _ := newTestEngine(t, b, testResendConfig(2))

	out := e.Run(context.Background())

	assert.Equal(t, Unconfirmed, out.Result)
	assert.Equal(t, 2, out.ExitCode())
	assert.Equal(t, "commit-error", out.Reason())
	assert.ErrorIs(t, out.Err, ErrCommit)
	assert.ErrorIs(t, out.Err, errBroker)

	var ce *CommitError
	require.ErrorAs(t, out.Err, &ce)
	assert.Equal(t, 2, ce.Staged)
	assert.Equal(t, 1, b.session.commits)
	assert.Equal(t, 0, b.session.rollbacks, "a failed commit is never followed by a rollback")
}

func TestRun_PublishErrorRollsBack(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	b.session.sendErr = errBroker
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, ErrPublish)
	assert.Equal(t, "publish-error", out.Reason())
	assert.Equal(t, 1, b.session.rollbacks)
}

func TestRun_ReceiveErrorRollsBack(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	b.session.receiveErr = errBroker
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, errBroker)
	assert.Equal(t, 1, b.session.rollbacks)
}

func TestRun_RollbackFailureAddsWarning(t *testing.T) {
	b := newFakeBroker()
	b.session.rollbackErr = errBroker
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(context.Background())

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, ErrReceiveShortfall)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "rollback")
}

func TestRun_BindFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(b *fakeBroker)
		wantClosed []string
	}{
		{
			name:       "session",
			setup:      func(b *fakeBroker) { b.sessionErr = errBroker },
			wantClosed: nil,
		},
		{
			name:       "exclusive bind",
			setup:      func(b *fakeBroker) { b.session.bindErr = errBroker },
			wantClosed: []string{"session"},
		},
		{
			name:       "producer",
			setup:      func(b *fakeBroker) { b.session.producerErr = errBroker },
			wantClosed: []string{"flow", "session"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBroker(queued("1", "Q2"))
			tt.setup(b)
			e, _ := newTestEngine(t, b, testResendConfig(1))

			out := e.Run(context.Background())

			assert.Equal(t, BindFailed, out.Result)
			assert.Equal(t, 3, out.ExitCode())
			assert.Equal(t, "bind-error", out.Reason())
			assert.ErrorIs(t, out.Err, ErrBind)
			assert.Equal(t, 0, out.Received)
			assert.Equal(t, 0, b.session.commits)
			assert.Equal(t, 0, b.session.rollbacks)
			assert.Equal(t, tt.wantClosed, b.session.closed)
		})
	}
}

func TestRun_ReleasesInOrder(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(context.Background())

	require.Equal(t, Committed, out.Result)
	assert.Equal(t, []string{"flow", "producer", "session"}, b.session.closed)
}

func TestRun_CancelledContext(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := newTestEngine(t, b, testResendConfig(1))

	out := e.Run(ctx)

	assert.Equal(t, Failed, out.Result)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, b.session.rollbacks, "rollback still reaches the broker")
}

func TestRun_DebugDumpsMessages(t *testing.T) {
	b := newFakeBroker(queued("1", "Q2"))
	e, buf := newTestEngine(t, b, testResendConfig(1))

	e.Run(context.Background())

	assert.Contains(t, buf.String(), "Message dump")
	assert.Contains(t, buf.String(), "payload-1")
}
