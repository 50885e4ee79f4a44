// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies why a payout attempt failed. Codes are stable strings
// stored on the ledger row and returned to callers.
type ErrorCode string

const (
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidBankAccount  ErrorCode = "INVALID_BANK_ACCOUNT"
	ErrCodeCreatorNotFound     ErrorCode = "CREATOR_NOT_FOUND"
	ErrCodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrCodeServerError         ErrorCode = "SERVER_ERROR"
	ErrCodeUnsupportedCountry  ErrorCode = "UNSUPPORTED_COUNTRY"
	ErrCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrCodeTransferFailed      ErrorCode = "TRANSFER_FAILED"
)

// Retryable reports whether a payout that failed with this code may be
// attempted again. Everything not listed here needs operator or creator
// action first.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeRateLimitExceeded, ErrCodeTimeout, ErrCodeNetworkError, ErrCodeServerError:
		return true
	default:
		return false
	}
}

// Sentinel errors shared across repositories and usecases.
var (
	ErrPayoutNotFound       = errors.New("payout not found")
	ErrCreatorNotFound      = errors.New("creator not found")
	ErrNoVerifiedAccount    = errors.New("no verified bank account")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrDuplicateReference   = errors.New("payout already exists for idempotency reference")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrPayoutNotCancellable = errors.New("payout can no longer be cancelled")
)

// PayoutError is the classified failure of a payout attempt. Business
// failures are returned as values, never panics.
type PayoutError struct {
	Code       ErrorCode
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *PayoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PayoutError) Unwrap() error {
	return e.Err
}

// NewPayoutError builds a PayoutError with retryability derived from the code.
func NewPayoutError(code ErrorCode, message string, err error) *PayoutError {
	return &PayoutError{
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
		Err:       err,
	}
}

// AsPayoutError unwraps err to a *PayoutError if one is in the chain.
func AsPayoutError(err error) (*PayoutError, bool) {
	var pe *PayoutError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
