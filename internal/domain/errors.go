package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// ValidationError is bad caller input; no network call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectivityError is a transport failure or timeout. Retryable.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("%s: connectivity: %v", e.Op, e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// ExternalRejectionError means the remote answered but refused the request.
// Message and Body are the remote's own words.
type ExternalRejectionError struct {
	Op         string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *ExternalRejectionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: rejected with status %d", e.Op, e.StatusCode)
}

// MappingGapError marks an inbound reference to a room code with no mapping.
type MappingGapError struct {
	HotelCode string
	RoomCode  string
}

func (e *MappingGapError) Error() string {
	return fmt.Sprintf("mapping gap: hotel %s has no room mapping for external code %q", e.HotelCode, e.RoomCode)
}

// ConcurrencyConflict is returned when a key stays locked longer than the
// caller is willing to wait. The caller should retry.
type ConcurrencyConflict struct {
	Key string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrent mutation in flight for %s", e.Key)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
