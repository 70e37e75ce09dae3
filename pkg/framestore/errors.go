package framestore

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by OpenError and DecodeError.
var (
	ErrUnsupportedSampleKind = errors.New("unsupported sample kind")
	ErrNotMultiFrame         = errors.New("stack has a single frame")
	ErrIO                    = errors.New("unreadable or corrupt container")
	ErrFrameOutOfRange       = errors.New("frame index out of range")
	ErrLayoutChanged         = errors.New("stack layout changed")
)

// OpenError reports a stack that could not be opened. Err wraps one of the
// sentinel causes above together with the underlying decoder error, if any.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// DecodeError reports a frame that could not be produced.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RangeError describes an intensity window update that would collapse or
// invert the window. It never leaves this package: rejected updates are
// logged and reported as false.
type RangeError struct {
	Min, Max float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid intensity window: min %g must be below max %g", e.Min, e.Max)
}

// openErr builds an OpenError carrying cause and, when present, the
// decoder's own error.
func openErr(path string, cause, err error) *OpenError {
	if err == nil {
		return &OpenError{Path: path, Err: cause}
	}
	return &OpenError{Path: path, Err: fmt.Errorf("%w: %w", cause, err)}
}
