// Package resend moves a bounded batch of messages between two queues inside
// one broker transaction: every message moves, or none does.
package resend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ibs-source/queue-resender/internal/config"
	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/message"
)

// Properties added to every resent message
const (
	PropResentFrom = "x-resent-from"
	PropResendRun  = "x-resend-run"
)

const dumpPayloadBytes = 512

// Engine runs one transactional resend batch
type Engine struct {
	broker        Broker
	from          string
	to            string
	count         int
	force         bool
	nop           bool
	commitTimeout time.Duration
	opts          message.ResendOptions
	runID         string
	log           *log.Logger
	now           func() time.Time
}

// New creates an engine. cfg must already be validated.
func New(b Broker, cfg *config.ResendConfig, logger *log.Logger) (*Engine, error) {
	mode, err := message.ParseDeliveryMode(cfg.DeliveryMode)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	return &Engine{
		broker:        b,
		from:          cfg.FromQueue,
		to:            cfg.ToQueue,
		count:         cfg.Count,
		force:         cfg.Force,
		nop:           cfg.NOP,
		commitTimeout: cfg.CommitTimeout,
		opts: message.ResendOptions{
			TimeToLive:   cfg.MessageTTL,
			DMQEligible:  cfg.DMQEligible,
			DeliveryMode: mode,
			Annotations: map[string]string{
				PropResentFrom: cfg.FromQueue,
				PropResendRun:  runID,
			},
		},
		runID: runID,
		log:   logger,
		now:   time.Now,
	}, nil
}

// RunID identifies this run in logs, reports and resent message properties
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes the batch and always returns a terminal outcome. Resources
// are released before Run returns, on every path.
func (e *Engine) Run(ctx context.Context) Outcome {
	out := Outcome{
		RunID:     e.runID,
		Source:    e.from,
		Target:    e.to,
		Requested: e.count,
		Started:   e.now(),
	}

	// The monitor cancels runCtx on abort so a pending receive or send returns early.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitor := NewFlowMonitor(e.from, e.log, cancel)

	e.log.InfoWithFields(logrus.Fields{"run": e.runID}, "Binding exclusively to source queue %s", e.from)
	res, err := acquire(runCtx, e.broker, BindOptions{Queue: e.from, Exclusive: true, Prefetch: e.count}, monitor, publishEvents{log: e.log})
	if err != nil {
		e.log.Error("Bind failed: %v", err)
		return e.finish(out, BindFailed, err)
	}
	defer func() {
		if err := res.release(); err != nil {
			e.log.Warn("Error releasing broker resources: %v", err)
		}
	}()

	tx := NewTransaction(res.session)

	if err := e.resend(runCtx, res, tx, monitor, &out); err != nil {
		return e.abort(ctx, tx, monitor, out, err)
	}

	// Last chance to honour an abort before the terminal action.
	if monitor.Aborted() {
		return e.abort(ctx, tx, monitor, out, monitor.Err())
	}

	termCtx, termCancel := e.terminalContext(ctx)
	defer termCancel()

	if Decide(e.nop, out.Sent == e.count) == ActionRollback {
		e.log.Info("Resent %d messages, NOP specified, rolling back transaction..", out.Sent)
		if err := tx.Rollback(termCtx); err != nil {
			return e.finish(out, Failed, err)
		}
		return e.finish(out, RolledBack, nil)
	}

	e.log.Info("Resent %d messages, committing transaction..", out.Sent)
	if err := tx.Commit(termCtx); err != nil {
		return e.finish(out, Unconfirmed, err)
	}
	if monitor.Aborted() {
		// The commit was already in flight; it completed and is kept.
		out.Warnings = append(out.Warnings, fmt.Sprintf("flow lost while committing: %v", monitor.Err()))
		e.log.Warn("Flow lost while committing, commit completed: %v", monitor.Err())
	}
	return e.finish(out, Committed, nil)
}

// resend runs the receive, validate, clone and send loop
func (e *Engine) resend(ctx context.Context, res *resources, tx *Transaction, monitor *FlowMonitor, out *Outcome) error {
	for i := 0; i < e.count; i++ {
		if monitor.Aborted() {
			return monitor.Err()
		}
		if err := tx.CheckActive(); err != nil {
			return err
		}

		e.log.Info("Reading message %d from queue %s", i+1, e.from)
		msg, err := res.flow.ReceiveNoWait(ctx)
		if err != nil {
			return e.interrupted(ctx, monitor, fmt.Errorf("receive message %d: %w", i+1, err))
		}
		if msg == nil {
			return fmt.Errorf("%w: no message %d of %d on queue %s", ErrReceiveShortfall, i+1, e.count, e.from)
		}
		out.Received++

		if e.log.IsDebug() {
			e.log.Debug("Message dump: %s", msg.Dump(dumpPayloadBytes))
		}

		if err := e.checkDestination(msg, out); err != nil {
			return err
		}

		clone := msg.Clone(e.opts, e.to)
		e.log.Info("Sending message %d to queue %s", i+1, e.to)
		if err := res.producer.Send(ctx, clone, e.to); err != nil {
			return e.interrupted(ctx, monitor, fmt.Errorf("%w: message %d: %v", ErrPublish, i+1, err))
		}
		if err := tx.RecordSend(); err != nil {
			return err
		}
		out.Sent++
	}
	return nil
}

func (e *Engine) checkDestination(msg *message.Message, out *Outcome) error {
	var original *string
	if name, ok := msg.OriginalQueue(); ok {
		original = &name
	}

	switch Validate(original, e.to, e.force) {
	case Reject:
		return fmt.Errorf("%w: original queue %s, resend queue %s (use -force to override)", ErrDestinationMismatch, *original, e.to)
	case ForcedOverride:
		w := fmt.Sprintf("message %s: original queue %s differs from resend queue %s, forcing send", msg.ID, *original, e.to)
		out.Warnings = append(out.Warnings, w)
		e.log.Warn("Original queue %s differs from resend queue %s, forcing send to specified resend queue", *original, e.to)
	case Unverifiable:
		e.log.Debug("Message %s arrived via %s, original queue cannot be checked", msg.ID, msg.Destination)
	}
	return nil
}

// interrupted prefers the abort cause when the error came from the cancelled run context
func (e *Engine) interrupted(ctx context.Context, monitor *FlowMonitor, err error) error {
	if monitor.Aborted() {
		return monitor.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return err
}

// abort forces the transaction into ROLLED_BACK
func (e *Engine) abort(ctx context.Context, tx *Transaction, monitor *FlowMonitor, out Outcome, cause error) Outcome {
	if monitor.Aborted() && !errors.Is(cause, ErrFlowAborted) {
		cause = monitor.Err()
	}
	e.log.Error("%v, rolling back transaction", cause)

	termCtx, cancel := e.terminalContext(ctx)
	defer cancel()
	if err := tx.Abort(termCtx, cause); err != nil {
		w := fmt.Sprintf("rollback: %v", err)
		out.Warnings = append(out.Warnings, w)
		e.log.Warn("Rollback after failure did not complete cleanly: %v", err)
	}
	return e.finish(out, Failed, cause)
}

// terminalContext outlives cancellation of the run so commit and rollback
// can still reach the broker after an abort.
func (e *Engine) terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if e.commitTimeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, e.commitTimeout)
}

func (e *Engine) finish(out Outcome, result Result, err error) Outcome {
	out.Result = result
	out.Err = err
	out.Finished = e.now()

	fields := logrus.Fields{
		"run":      out.RunID,
		"result":   string(out.Result),
		"received": out.Received,
		"sent":     out.Sent,
	}
	if result == Committed || result == RolledBack {
		e.log.InfoWithFields(fields, "%s", out.Summary())
		e.log.Info("Operation successfully completed.")
	} else {
		fields["reason"] = out.Reason()
		e.log.ErrorWithFields(fields, "%s", out.Summary())
		e.log.Info("Operation failed.")
	}
	return out
}
