package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Reason categorizes a provider failure for retry and fallback decisions.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonTimeout        Reason = "timeout"
	ReasonServerError    Reason = "server_error"
	ReasonAuth           Reason = "auth"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonUnknown        Reason = "unknown"
)

// Retryable reports whether the same endpoint may succeed on retry.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	}
	return false
}

// Error is a classified provider failure.
type Error struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s (status %d): %v", e.Provider, e.Model, e.Reason, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status to a Reason.
func classifyStatus(status int) Reason {
	switch {
	case status == 429:
		return ReasonRateLimit
	case status >= 500:
		return ReasonServerError
	case status == 401 || status == 403 || status == 402:
		return ReasonAuth
	case status >= 400:
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

// classifyErr wraps err in a classified Error.
func classifyErr(provider, model string, status int, err error) error {
	reason := classifyStatus(status)
	if reason == ReasonUnknown {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
		case errors.As(err, &netErr):
			reason = ReasonTimeout
		}
	}
	return &Error{Reason: reason, Provider: provider, Model: model, Status: status, Err: err}
}

// IsRetryable reports whether err warrants an in-place retry.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return false
}
