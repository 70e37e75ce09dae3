// Package decoder defines the frame decoder contract consumed by the frame
// store. A decoder opens a multi-frame container and hands out raw frames one
// at a time; it knows nothing about normalization or caching.
package decoder

import (
	"errors"

	"stacksync/internal/models"
)

var (
	// ErrCorrupt reports a container whose structure cannot be read.
	ErrCorrupt = errors.New("corrupt container")

	// ErrNonUniform reports a container whose frames disagree on shape or
	// sample kind.
	ErrNonUniform = errors.New("frames are not uniform")

	// ErrNoFrame is returned by Decode before a successful Seek.
	ErrNoFrame = errors.New("no frame selected")
)

// Header is what a decoder learns about a container without decoding pixels.
type Header struct {
	FrameCount int
	Width      int
	Height     int

	// Kind is models.KindUnknown when the encoding is outside the supported
	// set. Description then names the encoding for error messages.
	Kind        models.SampleKind
	Description string
}

// Decoder opens containers.
type Decoder interface {
	Open(path string) (Handle, error)
}

// Handle is an open container positioned on one frame.
type Handle interface {
	// Header describes the container.
	Header() Header

	// Seek positions the handle on frame index.
	Seek(index int) error

	// Decode returns the raw samples of the current frame.
	Decode() (*models.RawFrame, error)

	Close() error
}
