package resend

import (
	"errors"
	"fmt"
)

// Failure taxonomy of a resend run. Every path except ErrBind rolls back
// the open transaction before the run ends.
var (
	ErrBind                = errors.New("exclusive bind to source queue failed")
	ErrReceiveShortfall    = errors.New("fewer messages available than requested")
	ErrDestinationMismatch = errors.New("original queue differs from resend queue")
	ErrPublish             = errors.New("staging send failed")
	ErrCommit              = errors.New("transaction commit failed")
	ErrFlowAborted         = errors.New("source flow is no longer active")
	ErrTransactionClosed   = errors.New("transaction already closed")
)

// CommitError reports a commit rejected by the broker after all sends were
// staged. Whether messages left the source or reached the target is unknown.
type CommitError struct {
	Staged int
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of %d staged messages failed: %v", e.Staged, e.Err)
}

// Unwrap exposes both ErrCommit and the broker error to errors.Is
func (e *CommitError) Unwrap() []error {
	return []error{ErrCommit, e.Err}
}
