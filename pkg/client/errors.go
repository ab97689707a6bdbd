package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrTooManyIdentifiers is returned when a search names more identifiers
	// than one response may carry, which would silently truncate results.
	ErrTooManyIdentifiers = errors.New("too many identifiers for one query")

	// ErrNoIdentifiers is returned when a search names no identifiers.
	ErrNoIdentifiers = errors.New("no identifiers to query")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a success status with an unreadable body.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassUnexpected represents non-error statuses other than 200.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// RegistryError is returned for any registry query that did not yield studies.
// StatusCode is 0 when no response was received.
type RegistryError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("registry %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-200 HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
