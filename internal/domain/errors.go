package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPassInProgress is returned when a refresh is requested while another pass runs.
	ErrPassInProgress = errors.New("refresh pass already in progress")
	// ErrSchedulerStopped is returned when a refresh is requested after shutdown began.
	ErrSchedulerStopped = errors.New("refresh scheduler stopped")
	// ErrMetricNotFound is returned when no cache row exists for a key.
	ErrMetricNotFound = errors.New("metric not found")
)

// DataUnavailableError means the input feed could not be read. Key is zero for
// feed-wide failures.
type DataUnavailableError struct {
	Key Key
	Err error
}

func (e *DataUnavailableError) Error() string {
	if e.Key == (Key{}) {
		return fmt.Sprintf("data unavailable: %v", e.Err)
	}
	return fmt.Sprintf("data unavailable for %s: %v", e.Key, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// DataIntegrityError means the input for a key is malformed (negative stock, bad dates).
type DataIntegrityError struct {
	Key    Key
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation for %s: %s", e.Key, e.Reason)
}

// InvalidFilterError rejects a malformed dashboard filter at the query boundary.
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %s: %s", e.Field, e.Reason)
}

// IsDataUnavailable reports whether err is (or wraps) a DataUnavailableError.
func IsDataUnavailable(err error) bool {
	var target *DataUnavailableError
	return errors.As(err, &target)
}

// IsDataIntegrity reports whether err is (or wraps) a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var target *DataIntegrityError
	return errors.As(err, &target)
}

// IsInvalidFilter reports whether err is (or wraps) an InvalidFilterError.
func IsInvalidFilter(err error) bool {
	var target *InvalidFilterError
	return errors.As(err, &target)
}
