package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Precondition failures. Nothing was submitted to the ledger.
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrSigningUnavailable = fmt.Errorf("signing unavailable: %w", ErrWalletNotConnected)
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidMarket      = errors.New("invalid market")
	ErrInvalidDecision    = errors.New("invalid decision")
	ErrMissingPoolRefs    = errors.New("idea has no proposal or dao")
	ErrAlreadyFinalized   = errors.New("idea already finalized")
	ErrPoolAlreadyActive  = errors.New("idea already has an active pool")

	// Submission failures. The transaction never reached the ledger.
	ErrSubmissionFailed = errors.New("transaction submission failed")

	// Confirmation failures. The transaction reached the ledger.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	ErrExecutionReverted   = errors.New("transaction execution reverted")
	ErrTradeUnconfirmed    = errors.New("trade not confirmed")

	// Synchronization failures. The ledger step succeeded but the off-chain
	// store did not record it.
	ErrSyncFailed    = errors.New("off-chain sync failed")
	ErrStoreRejected = errors.New("idea store rejected request")
)

// IsPrecondition reports whether err was raised before anything was submitted.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrWalletNotConnected, ErrInvalidAmount, ErrInvalidMarket, ErrInvalidDecision,
		ErrMissingPoolRefs, ErrAlreadyFinalized, ErrPoolAlreadyActive, ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsIndeterminate reports whether the ledger outcome of err is unknown and
// must be re-queried by signature before any retry.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout)
}

// StepResult records one confirmed saga step.
type StepResult struct {
	Step      SagaStep `json:"step"`
	Signature string   `json:"signature,omitempty"`
}

// SagaError reports a pool-creation failure together with the steps that had
// already been confirmed on the ledger. Completed steps are never undone.
type SagaError struct {
	IdeaID    string
	Step      SagaStep
	Completed []StepResult
	Err       error
}

func (e *SagaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pool creation for idea %s failed at %q: %v", e.IdeaID, e.Step.Label(), e.Err)
	if len(e.Completed) > 0 {
		b.WriteString(" (completed:")
		for _, c := range e.Completed {
			fmt.Fprintf(&b, " %s", c.Step)
			if c.Signature != "" {
				fmt.Fprintf(&b, "=%s", c.Signature)
			}
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *SagaError) Unwrap() error { return e.Err }

// SyncError reports that a ledger transaction was confirmed but the off-chain
// store write that should follow it failed. Retrying the store write alone is
// safe; retrying the ledger transaction is not.
type SyncError struct {
	Operation string
	IdeaID    string
	Signature string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s for idea %s confirmed on-chain (tx %s) but off-chain sync failed: %v",
		e.Operation, e.IdeaID, e.Signature, e.Err)
}

func (e *SyncError) Unwrap() []error { return []error{ErrSyncFailed, e.Err} }
