package domain

import (
	"errors"
	"fmt"
)

// FailureKind is the signal a PlatformWorker reports when an attempt fails.
type FailureKind string

const (
	FailureProxyTimeout    FailureKind = "proxy_timeout"
	FailureProxyBanned     FailureKind = "proxy_banned"
	FailureConnectionReset FailureKind = "connection_reset"
	FailureProxyExpired    FailureKind = "proxy_expired"
	FailureLoginExpired    FailureKind = "login_expired"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureCaptcha         FailureKind = "captcha"
	FailureAccountBanned   FailureKind = "account_banned"
	FailureOther           FailureKind = "other"
)

// FailureClass is how the scheduler routes a failure.
type FailureClass string

const (
	ClassProxyExhausted     FailureClass = "proxy_exhausted"
	ClassNoAccountAvailable FailureClass = "no_account_available"
	ClassProxyFailure       FailureClass = "proxy_failure"
	ClassAccountFailure     FailureClass = "account_failure"
	ClassNonRetryable       FailureClass = "non_retryable"
	ClassCancelled          FailureClass = "cancelled"
)

func (k FailureKind) Class() FailureClass {
	switch k {
	case FailureProxyTimeout, FailureProxyBanned, FailureConnectionReset, FailureProxyExpired:
		return ClassProxyFailure
	case FailureLoginExpired, FailureRateLimited, FailureCaptcha, FailureAccountBanned:
		return ClassAccountFailure
	default:
		return ClassNonRetryable
	}
}

// CheckinOutcome maps an account-class failure onto the pool transition it
// triggers. Other kinds map to a plain success checkin.
func (k FailureKind) CheckinOutcome() CheckinOutcome {
	switch k {
	case FailureRateLimited, FailureCaptcha:
		return CheckinRateLimited
	case FailureLoginExpired, FailureAccountBanned:
		return CheckinBanned
	default:
		return CheckinSuccess
	}
}

func (c FailureClass) sentinel() error {
	switch c {
	case ClassProxyExhausted:
		return ErrProxyExhausted
	case ClassNoAccountAvailable:
		return ErrNoAccountAvailable
	case ClassProxyFailure:
		return ErrProxyFailure
	case ClassAccountFailure:
		return ErrAccountFailure
	case ClassCancelled:
		return ErrCancelled
	default:
		return ErrNonRetryable
	}
}

type WorkerError struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func NewWorkerError(kind FailureKind, reason string) *WorkerError {
	return &WorkerError{Kind: kind, Reason: reason}
}

func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Class().sentinel()}
	}
	return []error{e.Kind.Class().sentinel(), e.Err}
}

// ClassifyWorkerError returns the kind carried by err, or FailureOther when err
// is not a *WorkerError.
func ClassifyWorkerError(err error) FailureKind {
	var workerErr *WorkerError
	if errors.As(err, &workerErr) {
		return workerErr.Kind
	}

	return FailureOther
}
