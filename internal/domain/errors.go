package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrDuplicateAccount   = errors.New("duplicate account")
	ErrAccountInUse       = errors.New("account is checked out")
	ErrSecretNotFound     = errors.New("secret not found")
	ErrUnknownPlatform    = errors.New("unknown platform")
	ErrLeaseNotCheckedOut = errors.New("proxy lease is not checked out")

	ErrNoAccountAvailable = errors.New("no account available")
	// ErrAccountsExhausted means no account can ever become available without
	// operator action: none are registered or every one is banned.
	ErrAccountsExhausted = fmt.Errorf("%w: every account is banned or none are registered", ErrNoAccountAvailable)

	ErrProxyExhausted = errors.New("proxy source cannot supply a usable lease")
	ErrProxyFailure   = errors.New("proxy failure")
	ErrAccountFailure = errors.New("account failure")
	ErrNonRetryable   = errors.New("non-retryable failure")
	ErrCancelled      = errors.New("run cancelled")

	// ErrConfiguration aborts a whole run instead of a single chunk.
	ErrConfiguration            = errors.New("configuration error")
	ErrInvalidVendorCredentials = fmt.Errorf("%w: invalid proxy vendor credentials", ErrConfiguration)
)
