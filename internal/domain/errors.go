package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSlotHeld        = errors.New("submission already outstanding")
	ErrHashAlreadySet  = errors.New("operation hash already set")
	ErrUserDeclined    = errors.New("user declined to sign")
	ErrSignerGone      = errors.New("signer unavailable")
	ErrReceiptNotFound = errors.New("receipt not yet available")
	ErrContextDone     = errors.New("context cancelled")
)

// ErrorCode classifies a terminal operation error per the lifecycle
// taxonomy.
type ErrorCode string

const (
	// CodeValidation: a precondition failed locally before any signature
	// request. Recoverable by correcting input; never retried automatically.
	CodeValidation ErrorCode = "validation"

	// CodeUserDeclined: the signer explicitly rejected. Terminal for the
	// record; the user may start a brand-new attempt.
	CodeUserDeclined ErrorCode = "user_declined"

	// CodeSubmission: the signing provider failed before producing a hash.
	// Safe to retry since no irreversible action occurred.
	CodeSubmission ErrorCode = "submission"

	// CodeReverted: the ledger executed but the business rule failed. Safe
	// to retry only after re-validating current state.
	CodeReverted ErrorCode = "reverted"

	// CodeBackendSync: the ledger succeeded but the backend update failed
	// after retries. NOT a failure of the user's action; the on-chain effect
	// already happened and the record remains eligible for reconciliation.
	CodeBackendSync ErrorCode = "backend_sync"
)

// OpError is the single classified error value surfaced to the interface.
// Hash is populated for CodeBackendSync so a reconciliation path can act on
// the confirmed operation without re-deriving it.
type OpError struct {
	Code    ErrorCode
	Message string
	Hash    string
	cause   error
}

func (e *OpError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("%s: %s (hash %s)", e.Code, e.Message, e.Hash)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OpError) Unwrap() error { return e.cause }

// UserMessage maps the error to exactly one of the three user-visible
// outcomes. A backend-sync error is never phrased as a failure of the
// user's action.
func (e *OpError) UserMessage() string {
	switch e.Code {
	case CodeValidation, CodeUserDeclined:
		return "action cancelled"
	case CodeBackendSync:
		return "action succeeded on-chain but status sync is delayed"
	default:
		return "action failed, you may retry"
	}
}

// NewValidationError builds a CodeValidation error.
func NewValidationError(format string, args ...any) *OpError {
	return &OpError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewUserDeclinedError builds a CodeUserDeclined error wrapping cause.
func NewUserDeclinedError(cause error) *OpError {
	return &OpError{Code: CodeUserDeclined, Message: "signing declined by holder", cause: cause}
}

// NewSubmissionError builds a CodeSubmission error wrapping cause.
func NewSubmissionError(cause error) *OpError {
	return &OpError{Code: CodeSubmission, Message: cause.Error(), cause: cause}
}

// NewRevertedError builds a CodeReverted error. Reason may be empty when the
// ledger exposes none.
func NewRevertedError(reason string) *OpError {
	if reason == "" {
		reason = "operation reverted"
	}
	return &OpError{Code: CodeReverted, Message: reason}
}

// NewBackendSyncError builds a CodeBackendSync error carrying the confirmed
// hash.
func NewBackendSyncError(hash string, cause error) *OpError {
	return &OpError{Code: CodeBackendSync, Message: cause.Error(), Hash: hash, cause: cause}
}
