package upload

import (
	"errors"
	"fmt"
)

// Error names the collection service uses for events that can never be
// accepted. Retrying them is pointless, so their handles are dropped.
const (
	ErrNameInvalidCollectionName = "InvalidCollectionNameError"
	ErrNameInvalidPropertyName   = "InvalidPropertyNameError"
	ErrNameInvalidPropertyValue  = "InvalidPropertyValueError"
)

// IsPermanentErrorName reports whether a per-event error name denotes a
// validation failure that retrying cannot fix.
func IsPermanentErrorName(name string) bool {
	switch name {
	case ErrNameInvalidCollectionName, ErrNameInvalidPropertyName, ErrNameInvalidPropertyValue:
		return true
	default:
		return false
	}
}

// EventError is a per-event failure reported by the collection service.
type EventError struct {
	Collection  string
	Name        string
	Description string
	Permanent   bool
}

func (e *EventError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", e.Collection, e.Name)
	}
	return fmt.Sprintf("%s: %s: %s", e.Collection, e.Name, e.Description)
}

// TransientUploadError means the cycle produced no usable per-event outcome:
// a network failure, timeout, non-2xx status, or unparsable body. Every
// handle it covers is kept for the next cycle.
type TransientUploadError struct {
	StatusCode int    // 0 when no response was received
	Body       string // first 512 bytes of the response, if any
	Err        error
}

func (e *TransientUploadError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("upload failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upload failed: HTTP %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
}

func (e *TransientUploadError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is or wraps a *TransientUploadError.
func IsTransient(err error) bool {
	var te *TransientUploadError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a permanent *EventError.
func IsPermanent(err error) bool {
	var ee *EventError
	return errors.As(err, &ee) && ee.Permanent
}

// errMalformedCollection marks a collection whose outcome list was missing or
// did not line up with the submitted events.
var errMalformedCollection = errors.New("malformed outcome for collection")
