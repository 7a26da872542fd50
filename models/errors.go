package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes recorded in failed output entries and used for abort decisions.
const (
	ErrCodeAuth               = "AUTH_FAILED"
	ErrCodeTransientUI        = "TRANSIENT_UI"
	ErrCodeMissingField       = "MISSING_REQUIRED_FIELD"
	ErrCodePaginationCeiling  = "PAGINATION_CEILING"
	ErrCodeOutputIO           = "OUTPUT_IO"
	ErrCodeNavigation         = "NAVIGATION_FAILED"
	ErrCodeSessionInvalidated = "SESSION_INVALIDATED"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeBrowserCrash       = "BROWSER_CRASH"
	ErrCodeInternal           = "INTERNAL_ERROR"

	// Status server codes.
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"
)

// Sentinels for errors.Is checks. A *HarvestError matches a sentinel when
// the codes are equal.
var (
	ErrAuth               = &HarvestError{Code: ErrCodeAuth}
	ErrTransientUI        = &HarvestError{Code: ErrCodeTransientUI}
	ErrMissingField       = &HarvestError{Code: ErrCodeMissingField}
	ErrPaginationCeiling  = &HarvestError{Code: ErrCodePaginationCeiling}
	ErrOutputIO           = &HarvestError{Code: ErrCodeOutputIO}
	ErrNavigation         = &HarvestError{Code: ErrCodeNavigation}
	ErrSessionInvalidated = &HarvestError{Code: ErrCodeSessionInvalidated}
	ErrTimeout            = &HarvestError{Code: ErrCodeTimeout}
	ErrInvalidInput       = &HarvestError{Code: ErrCodeInvalidInput}
)

// ErrorDetail is the error summary carried by a failed output entry.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Code
	case e.Err != nil && e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *HarvestError with the same code.
func (e *HarvestError) Is(target error) bool {
	t, ok := target.(*HarvestError)
	return ok && t.Code == e.Code
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to the summary stored with a failed entry.
func (e *HarvestError) ToDetail() *ErrorDetail {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return &ErrorDetail{Code: e.Code, Message: msg}
}

// Code returns the code of the outermost HarvestError in err's chain.
// Context errors map to TIMEOUT; anything else is INTERNAL_ERROR.
func Code(err error) string {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}

// Detail builds an ErrorDetail for any error.
func Detail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var he *HarvestError
	if errors.As(err, &he) {
		return he.ToDetail()
	}
	return &ErrorDetail{Code: Code(err), Message: err.Error()}
}

// Fatal reports whether err must abort the whole run rather than fail a
// single target.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrOutputIO)
}
