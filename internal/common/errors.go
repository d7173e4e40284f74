// Package common holds the HTTP boundary plumbing shared by the pricing and
// checkout surfaces: the error taxonomy, the response envelope, client
// identity helpers and the idempotency guard.
package common

import "errors"

// AppError pairs a stable machine-readable code (OFFER_EXHAUSTED,
// RULE_NOT_FOUND, STORE_REQUIRED) with the HTTP status it maps to. Services
// return it; handlers unwrap it into the response envelope without guessing
// statuses from error strings.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the cause so errors.Is still matches domain sentinels
// wrapped inside an AppError.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError reports whether err carries an AppError anywhere in its chain.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
