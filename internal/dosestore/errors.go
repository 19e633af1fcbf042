package dosestore

import (
	"errors"
	"fmt"
)

// ErrNoData is wrapped by fetch errors for points that have no value.
var ErrNoData = errors.New("no data")

// ErrClosed is returned for operations submitted to, or pending on, a
// closed store.
var ErrClosed = errors.New("dose store closed")

// ErrorCode categorizes dose store errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a schedule or duration required by the
	// operation is missing. Configure it and retry.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// ErrCodeInitialization indicates the record store failed to open.
	// Fatal to the instance.
	ErrCodeInitialization ErrorCode = "INITIALIZATION_ERROR"

	// ErrCodePersistence indicates a write or commit failed. In-memory
	// state is left as it was before the operation.
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"

	// ErrCodeFetch indicates a query failed or the requested point has no
	// data.
	ErrCodeFetch ErrorCode = "FETCH_ERROR"
)

// Error is the error type returned by DoseStore operations.
type Error struct {
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Recovery suggests what the caller can do, if anything.
	Recovery string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsConfigurationError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsInitializationError returns true if the error is an initialization error.
func IsInitializationError(err error) bool {
	return hasCode(err, ErrCodeInitialization)
}

// IsPersistenceError returns true if the error is a persistence error.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsFetchError returns true if the error is a fetch error.
func IsFetchError(err error) bool {
	return hasCode(err, ErrCodeFetch)
}

func configurationError(message, recovery string) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Recovery: recovery}
}

func initializationError(err error) *Error {
	return &Error{
		Code:     ErrCodeInitialization,
		Message:  "record store failed to open",
		Recovery: "create a new dose store",
		Err:      err,
	}
}

func persistenceError(op string, err error) *Error {
	return &Error{Code: ErrCodePersistence, Message: op, Err: err}
}

func fetchError(op string, err error) *Error {
	return &Error{Code: ErrCodeFetch, Message: op, Err: err}
}

func noDataError(message, recovery string) *Error {
	return &Error{Code: ErrCodeFetch, Message: message, Recovery: recovery, Err: ErrNoData}
}
