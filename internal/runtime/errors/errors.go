package errors

import (
	"context"
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired      = sterrors.New("xrayflow: service is required")
	ErrHandlerRequired      = sterrors.New("xrayflow: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("xrayflow: consume queue is required")
	ErrHandlerNameRequired  = sterrors.New("xrayflow: handler name is required")
	ErrPublisherRequired    = sterrors.New("xrayflow: publisher is required")
	ErrTopicRequired        = sterrors.New("xrayflow: topic is required")
	ErrStoreRequired        = sterrors.New("xrayflow: store is required")
	ErrEmitterRequired      = sterrors.New("xrayflow: event emitter is required")
	ErrConfigRequired       = sterrors.New("xrayflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("xrayflow: logger is required")

	ErrMalformedMessage  = sterrors.New("xrayflow: malformed message")
	ErrTransformation    = sterrors.New("xrayflow: transformation failed")
	ErrPersistence       = sterrors.New("xrayflow: persistence failed")
	ErrNotFound          = sterrors.New("xrayflow: record not found")
	ErrInvalidPagination = sterrors.New("xrayflow: invalid pagination")
	ErrInvalidRequest    = sterrors.New("xrayflow: invalid request")
)

// MalformedMessageError reports a payload that could not be decoded into a
// telemetry message. DeviceID is set when the envelope was readable.
type MalformedMessageError struct {
	DeviceID string
	Reason   string
	Err      error
}

func (e *MalformedMessageError) Error() string {
	msg := "malformed message"
	if e.DeviceID != "" {
		msg += " from device " + e.DeviceID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }

// TransformationError reports a sample tuple that does not have the
// (offset, (x, y, speed)) shape. Index is the position inside the data array.
type TransformationError struct {
	DeviceID string
	Index    int
	Reason   string
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transform device %s sample %d: %s", e.DeviceID, e.Index, e.Reason)
}

func (e *TransformationError) Is(target error) bool { return target == ErrTransformation }

// PersistenceError wraps a store failure together with the operation that failed.
type PersistenceError struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("store %s for device %s: %v", e.Op, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NotFoundError reports a record id that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewPersistenceError wraps err unless it is nil or already a PersistenceError.
func NewPersistenceError(op, deviceID string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PersistenceError
	if sterrors.As(err, &existing) {
		return err
	}
	return &PersistenceError{Op: op, DeviceID: deviceID, Err: err}
}

// DeviceIDOf returns the device addressed by a pipeline failure, if any.
func DeviceIDOf(err error) (string, bool) {
	var malformed *MalformedMessageError
	if sterrors.As(err, &malformed) && malformed.DeviceID != "" {
		return malformed.DeviceID, true
	}
	var transform *TransformationError
	if sterrors.As(err, &transform) && transform.DeviceID != "" {
		return transform.DeviceID, true
	}
	var persistence *PersistenceError
	if sterrors.As(err, &persistence) && persistence.DeviceID != "" {
		return persistence.DeviceID, true
	}
	return "", false
}

// IsUnprocessable reports whether err describes a payload that redelivery
// cannot fix.
func IsUnprocessable(err error) bool {
	return sterrors.Is(err, ErrMalformedMessage) || sterrors.Is(err, ErrTransformation)
}

// Category groups errors for metrics and handler statistics.
type Category string

const (
	CategoryNone       Category = "none"
	CategoryValidation Category = "validation"
	CategoryDownstream Category = "downstream"
	CategoryOther      Category = "other"
)

// Classify maps err onto a Category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case IsUnprocessable(err):
		return CategoryValidation
	case sterrors.Is(err, ErrPersistence),
		sterrors.Is(err, context.DeadlineExceeded),
		sterrors.Is(err, context.Canceled):
		return CategoryDownstream
	default:
		return CategoryOther
	}
}
