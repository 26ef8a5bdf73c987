package detections

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad is fatal for the detector that reports it.
	ErrModelLoad = errors.New("model load failed")
	// ErrEncoding reports a malformed input frame.
	ErrEncoding = errors.New("image encoding failed")
	// ErrDecode reports a missing or malformed output tensor.
	ErrDecode = errors.New("output decoding failed")
	// ErrInference wraps failures raised by the inference engine itself.
	ErrInference = errors.New("inference failed")
)

type ProcessingError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches the error kind so callers can use errors.Is(err, ErrDecode).
func (e *ProcessingError) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, cause error, format string, args ...any) *ProcessingError {
	return &ProcessingError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
