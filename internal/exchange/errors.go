package exchange

import (
	"errors"
	"fmt"
)

// ErrorClass buckets exchange failures for the pipeline's retry policy
type ErrorClass int

const (
	// ErrClassTransient covers timeouts, rate limits and 5xx responses.
	// Safe to retry with backoff.
	ErrClassTransient ErrorClass = iota
	// ErrClassAuth covers invalid or revoked API credentials. Never
	// retried; the user is excluded from execution until corrected.
	ErrClassAuth
	// ErrClassInsufficientBalance covers margin/balance rejections.
	// Never retried for the same order.
	ErrClassInsufficientBalance
	// ErrClassRejected covers all other order rejections (bad symbol,
	// filters). Never retried.
	ErrClassRejected
)

// APIError is a structured exchange error with the venue's error code
type APIError struct {
	HTTPStatus int    `json:"http_status"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Classify maps an error from a client call to its retry class
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network-level failure or timeout
		return ErrClassTransient
	}

	switch apiErr.Code {
	case -2014, -2015, -1022: // bad API key format, rejected key/IP/permissions, bad signature
		return ErrClassAuth
	case -2018, -2019: // balance insufficient, margin insufficient
		return ErrClassInsufficientBalance
	case -1003: // too many requests
		return ErrClassTransient
	}

	switch apiErr.HTTPStatus {
	case 401, 403:
		return ErrClassAuth
	case 418, 429:
		return ErrClassTransient
	}
	if apiErr.HTTPStatus >= 500 {
		return ErrClassTransient
	}
	return ErrClassRejected
}

// retryable reports whether a failed request may be re-sent by the client's
// bounded retry loop. Auth and rejection errors are final on first sight.
func retryable(err error) bool {
	return Classify(err) == ErrClassTransient
}
