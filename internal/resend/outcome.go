package resend

import (
	"errors"
	"fmt"
	"time"
)

// Result is the terminal outcome of a run
type Result string

const (
	// Committed: every message was moved
	Committed Result = "committed"
	// RolledBack: all sends were staged and rolled back on request (no-op run)
	RolledBack Result = "rolled-back"
	// Failed: an error forced a rollback
	Failed Result = "failed"
	// Unconfirmed: the commit was rejected; broker state must be verified by hand
	Unconfirmed Result = "unconfirmed"
	// BindFailed: the exclusive binding could not be acquired, nothing was opened
	BindFailed Result = "bind-failed"
)

// Outcome is the single terminal value returned by a run
type Outcome struct {
	RunID     string
	Source    string
	Target    string
	Requested int
	Received  int
	Sent      int
	Result    Result
	Err       error
	Warnings  []string
	Started   time.Time
	Finished  time.Time
}

// ExitCode maps the outcome to a process exit status
func (o Outcome) ExitCode() int {
	switch o.Result {
	case Committed, RolledBack:
		return 0
	case Unconfirmed:
		return 2
	case BindFailed:
		return 3
	}
	return 1
}

// Summary is the human-readable line naming the failure and the forced outcome
func (o Outcome) Summary() string {
	switch o.Result {
	case Committed:
		return fmt.Sprintf("Resent %d messages from %s to %s, transaction committed", o.Sent, o.Source, o.Target)
	case RolledBack:
		return fmt.Sprintf("Resent %d messages from %s to %s, NOP specified, transaction rolled back", o.Sent, o.Source, o.Target)
	case Unconfirmed:
		return fmt.Sprintf("Commit of %d staged messages failed, outcome unconfirmed, verify queues %s and %s: %v",
			o.Sent, o.Source, o.Target, o.Err)
	case BindFailed:
		return fmt.Sprintf("Could not bind to queue %s, nothing was read: %v", o.Source, o.Err)
	}
	return fmt.Sprintf("Operation failed after %d/%d messages, transaction rolled back: %v", o.Sent, o.Requested, o.Err)
}

// Reason returns a short machine-friendly name of the failure
func (o Outcome) Reason() string {
	switch {
	case o.Err == nil:
		return ""
	case errors.Is(o.Err, ErrFlowAborted):
		return "flow-aborted"
	case errors.Is(o.Err, ErrCommit):
		return "commit-error"
	case errors.Is(o.Err, ErrBind):
		return "bind-error"
	case errors.Is(o.Err, ErrReceiveShortfall):
		return "receive-shortfall"
	case errors.Is(o.Err, ErrDestinationMismatch):
		return "destination-mismatch"
	case errors.Is(o.Err, ErrPublish):
		return "publish-error"
	}
	return "error"
}
