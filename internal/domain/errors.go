package domain

import "errors"

var (
	// ErrTransientTransport marks a socket-level failure or a handshake that
	// did not complete within the connect timeout. Always retryable.
	ErrTransientTransport = errors.New("transient transport error")
	// ErrIdentityUnavailable means there is no session. Connection attempts
	// are suspended until one appears.
	ErrIdentityUnavailable = errors.New("identity unavailable")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrUserInputInvalid    = errors.New("invalid user input")
	ErrGuestLoginFailed    = errors.New("guest login failed")
)
