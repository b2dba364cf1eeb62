package dispatch

import (
	"errors"
	"fmt"

	"github.com/rfalcao/conceptminer/internal/domain"
)

type ErrorCode string

const (
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeMalformedRequest ErrorCode = "MALFORMED_REQUEST"
)

// Error is the typed failure every dispatch returns instead of raising an
// uncaught fault. Callers branch on Code to decide refunds and fallback.
type Error struct {
	Code    ErrorCode
	Tier    domain.Tier
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch %s tier=%s: %s: %v", e.Code, e.Tier, e.Message, e.Err)
	}
	return fmt.Sprintf("dispatch %s tier=%s: %s", e.Code, e.Tier, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the dispatch error code, empty when err is not ours.
func CodeOf(err error) ErrorCode {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

// Retriable reports whether the failure is attributable to the provider
// side. Retriable failures are eligible for budget refund; malformed
// requests are caller defects and keep their budget consumed.
func Retriable(err error) bool {
	switch CodeOf(err) {
	case CodeProviderError, CodeTimeout:
		return true
	}
	return false
}
