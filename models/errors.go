package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ImageDecodeError reports an unreadable or empty image.
type ImageDecodeError struct {
	Message string
	Cause   error
}

func (e *ImageDecodeError) Error() string { return format("image decode", e.Message, e.Cause) }
func (e *ImageDecodeError) Unwrap() error { return e.Cause }

// ModelInitError reports a session that could not be built from a model path.
type ModelInitError struct {
	Message string
	Cause   error
}

func (e *ModelInitError) Error() string { return format("model init", e.Message, e.Cause) }
func (e *ModelInitError) Unwrap() error { return e.Cause }

// InferenceError reports an engine failure during a run.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string { return format("inference", e.Message, e.Cause) }
func (e *InferenceError) Unwrap() error { return e.Cause }

// UnsupportedPlatformError reports that no native runtime is available here.
type UnsupportedPlatformError struct {
	Message string
	Cause   error
}

func (e *UnsupportedPlatformError) Error() string {
	return format("unsupported platform", e.Message, e.Cause)
}
func (e *UnsupportedPlatformError) Unwrap() error { return e.Cause }

// SerializationError reports a malformed wire payload.
type SerializationError struct {
	Message string
	Cause   error
}

func (e *SerializationError) Error() string { return format("serialization", e.Message, e.Cause) }
func (e *SerializationError) Unwrap() error { return e.Cause }

func format(kind, msg string, cause error) string {
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", kind, msg, cause)
	}
	return fmt.Sprintf("%s: %s", kind, msg)
}

// IsImageDecode reports whether err wraps an *ImageDecodeError.
func IsImageDecode(err error) bool {
	var target *ImageDecodeError
	return errors.As(err, &target)
}
