package attozkvm

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/proverchain"
)

// ErrorCode classifies client failures.
type ErrorCode int

const (
	// ErrUnknown represents an unclassified error.
	ErrUnknown ErrorCode = iota

	// ErrInvalidConfig means the client configuration is unusable.
	ErrInvalidConfig

	// ErrExecution means the program failed during emulation.
	ErrExecution

	// ErrProofGeneration means a proving stage failed.
	ErrProofGeneration

	// ErrProofVerification means a proof did not verify.
	ErrProofVerification

	// ErrInvalidInput means an argument was malformed or out of order.
	ErrInvalidInput

	// ErrExport means writing the on-chain artifacts failed.
	ErrExport
)

// ErrVkNotAllowed is returned by allow-listed stages for keys outside the
// deployment's verifying-key set.
var ErrVkNotAllowed = proverchain.ErrVkNotAllowed

// Error is the client's error type. Cause carries the underlying failure.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("atto-zkvm error [%d]: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("atto-zkvm error [%d]: %s", e.Code, e.Message)
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func wrapErr(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}
