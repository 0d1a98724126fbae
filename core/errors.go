package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a platform fetch failed.
type ErrorKind string

const (
	// KindInvalidUsername means the username format was rejected before
	// any request was dispatched.
	KindInvalidUsername ErrorKind = "invalid_username"
	// KindNotFound means the upstream positively confirmed the username
	// does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited means the governor or the upstream refused the
	// request for pacing reasons.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTimeout means the per-platform deadline elapsed.
	KindTimeout ErrorKind = "timeout"
	// KindUpstreamUnavailable covers connection failures and 5xx-class
	// responses.
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	// KindValidation means the fetched data failed normalization checks.
	KindValidation ErrorKind = "validation_error"
)

// FetchError is the typed failure every platform adapter returns.
type FetchError struct {
	Kind     ErrorKind
	Platform Platform
	Username string
	Message  string
	// RetryAfter is set when the upstream announced a wait period.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Platform, e.Username, e.Kind, msg)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is worth another attempt.
// Terminal kinds (bad input, confirmed absence, validation) never are.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUpstreamUnavailable:
		return true
	}
	return false
}

// NewFetchError builds a FetchError.
func NewFetchError(kind ErrorKind, platform Platform, username, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Platform: platform, Username: username, Message: message, Err: err}
}

// NotFoundError reports a confirmed-absent username.
func NotFoundError(platform Platform, username string) *FetchError {
	return NewFetchError(KindNotFound, platform, username,
		fmt.Sprintf("user %q was not found on %s", username, platform), nil)
}

// KindOf extracts the error kind from an adapter failure. Context
// deadline errors map to KindTimeout; anything else unclassified maps
// to KindUpstreamUnavailable.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUpstreamUnavailable
}

// IsRetryable reports whether a sync attempt that failed with err may be
// retried with backoff.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ErrNotFound is returned by stores when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// StoreError marks a persistence-layer failure. Unlike per-platform
// failures it is fatal to an entire fleet run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err originated in the persistence layer.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
