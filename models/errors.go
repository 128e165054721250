package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeBlocked        = "BLOCKED"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeTransport      = "TRANSPORT_ERROR"
	ErrCodeDriverLaunch   = "DRIVER_LAUNCH_FAILED"
	ErrCodeBypassFailed   = "BYPASS_FAILED"
	ErrCodeHarvestTimeout = "HARVEST_TIMEOUT"
	ErrCodeHarvestCancel  = "HARVEST_CANCELLED"
	ErrCodeHarvestFailed  = "HARVEST_FAILED"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeNoMatch        = "SELECTOR_NO_MATCH"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. CodedError and BypassFailure unwrap to
// the matching sentinel.
var (
	ErrBypassFailed     = errors.New("bypass failed")
	ErrDriverLaunch     = errors.New("no browser engine could be launched")
	ErrHarvestTimeout   = errors.New("harvest timed out")
	ErrHarvestCancelled = errors.New("harvest cancelled")
	ErrBrowserClosed    = errors.New("browser window was closed")
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodedError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type CodedError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCodedError creates a new CodedError.
func NewCodedError(code, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *CodedError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// AttemptRecord describes one strategy attempt inside a cascade run.
type AttemptRecord struct {
	Round    int    `json:"round"`
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// BypassFailure is returned by the cascade once every strategy has been
// tried across every retry round without a 200 response.
type BypassFailure struct {
	URL      string
	Rounds   int
	Attempts []AttemptRecord
	Elapsed  time.Duration
}

func (e *BypassFailure) Error() string {
	return fmt.Sprintf("%s: all strategies failed for %s after %d round(s) in %s (tried: %s)",
		ErrCodeBypassFailed, e.URL, e.Rounds, e.Elapsed.Round(time.Millisecond), strings.Join(e.Strategies(), ", "))
}

func (e *BypassFailure) Unwrap() error {
	return ErrBypassFailed
}

// Strategies returns the distinct strategy names that were attempted, in
// first-attempt order.
func (e *BypassFailure) Strategies() []string {
	seen := make(map[string]struct{}, len(e.Attempts))
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if _, ok := seen[a.Strategy]; ok {
			continue
		}
		seen[a.Strategy] = struct{}{}
		names = append(names, a.Strategy)
	}
	return names
}

// ToDetail converts the failure to an API-facing ErrorDetail.
func (e *BypassFailure) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: ErrCodeBypassFailed, Message: e.Error()}
}

// AsDetail converts any error into an ErrorDetail, preserving codes where
// the error carries one.
func AsDetail(err error) *ErrorDetail {
	var bf *BypassFailure
	if errors.As(err, &bf) {
		return bf.ToDetail()
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.ToDetail()
	}
	return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
}
