package resend

import (
	"context"
	"fmt"
	"sync"
)

// TransactionState is the lifecycle state of a batch transaction
type TransactionState int

const (
	// StateActive is the only state in which receive and send are permitted
	StateActive TransactionState = iota
	// StateCommitted is terminal
	StateCommitted
	// StateRolledBack is terminal
	StateRolledBack
	// StateAborted is transient: it is entered on an abort and left by rolling back
	StateAborted
)

func (s TransactionState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Action is the terminal action chosen at the end of a batch
type Action int

const (
	// ActionRollback discards every staged receive and send
	ActionRollback Action = iota
	// ActionCommit makes them durable
	ActionCommit
)

func (a Action) String() string {
	if a == ActionCommit {
		return "commit"
	}
	return "rollback"
}

// Decide picks the terminal action. A no-op request always rolls back.
func Decide(nopRequested, allSent bool) Action {
	if allSent && !nopRequested {
		return ActionCommit
	}
	return ActionRollback
}

// committer is the part of a transacted session the controller drives
type committer interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction guards the terminal transition of a transacted session: at
// most one of Commit or Rollback ever reaches the broker.
type Transaction struct {
	mu     sync.Mutex
	s      committer
	state  TransactionState
	staged int
	cause  error
}

// NewTransaction starts tracking an open transacted session
func NewTransaction(s committer) *Transaction {
	return &Transaction{s: s, state: StateActive}
}

// State returns the current state
func (t *Transaction) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Staged returns the number of sends recorded in the transaction
func (t *Transaction) Staged() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.staged
}

// Cause returns the error passed to Abort, if any
func (t *Transaction) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// CheckActive returns ErrTransactionClosed unless receive/send are permitted
func (t *Transaction) CheckActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: state %s", ErrTransactionClosed, t.state)
	}
	return nil
}

// RecordSend accounts one staged send
func (t *Transaction) RecordSend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: state %s", ErrTransactionClosed, t.state)
	}
	t.staged++
	return nil
}

// Commit commits the transaction. A broker rejection is returned as a
// *CommitError and leaves the transaction closed.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: commit in state %s", ErrTransactionClosed, t.state)
	}

	if err := t.s.Commit(ctx); err != nil {
		t.state = StateRolledBack
		return &CommitError{Staged: t.staged, Err: err}
	}
	t.state = StateCommitted
	return nil
}

// Rollback rolls the transaction back
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: rollback in state %s", ErrTransactionClosed, t.state)
	}
	return t.rollbackLocked(ctx)
}

// Abort records cause and forces an immediate rollback
func (t *Transaction) Abort(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: abort in state %s", ErrTransactionClosed, t.state)
	}
	t.state = StateAborted
	t.cause = cause
	return t.rollbackLocked(ctx)
}

func (t *Transaction) rollbackLocked(ctx context.Context) error {
	err := t.s.Rollback(ctx)
	// The broker discards an unresolved transaction when the session closes,
	// so the state is terminal even if the explicit rollback failed.
	t.state = StateRolledBack
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
