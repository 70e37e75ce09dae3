package models

import (
	"fmt"
)

// SampleKind is the numeric encoding of one pixel value in a frame stack.
type SampleKind int

const (
	// KindUnknown marks an encoding the core cannot normalize
	// (multi-channel pixels, 1-bit, 64-bit, signed 16-bit, ...).
	KindUnknown SampleKind = iota
	Unsigned8
	Unsigned16
	SignedInt32
	Float32
)

// String returns a short human readable name for the kind
func (k SampleKind) String() string {
	switch k {
	case Unsigned8:
		return "uint8"
	case Unsigned16:
		return "uint16"
	case SignedInt32:
		return "int32"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseSampleKind is the inverse of String.
func ParseSampleKind(s string) (SampleKind, error) {
	for _, k := range []SampleKind{Unsigned8, Unsigned16, SignedInt32, Float32} {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown sample kind %q", s)
}

// Supported reports whether the core can normalize samples of this kind
func (k SampleKind) Supported() bool {
	return k >= Unsigned8 && k <= Float32
}

// BitDepth is the storage width of one sample in bits
func (k SampleKind) BitDepth() int {
	switch k {
	case Unsigned8:
		return 8
	case Unsigned16:
		return 16
	case SignedInt32, Float32:
		return 32
	default:
		return 0
	}
}

// IsFloat reports whether samples are IEEE floating point values
func (k SampleKind) IsFloat() bool {
	return k == Float32
}

// FrameStack describes one multi-frame raster stack. It is immutable once the
// stack has been opened.
type FrameStack struct {
	// Path is the filesystem location of the container
	Path string

	// FrameCount is the number of 2D frames in the stack
	FrameCount int

	// Width and Height are the pixel dimensions shared by every frame
	Width  int
	Height int

	// Kind is the sample encoding shared by every frame
	Kind SampleKind
}

// RawFrame is one undecoded frame. Samples are stored row-major; float64
// holds every supported kind without loss.
type RawFrame struct {
	Width   int
	Height  int
	Kind    SampleKind
	Samples []float64
}

// At returns the raw sample at (x, y)
func (f *RawFrame) At(x, y int) float64 {
	return f.Samples[y*f.Width+x]
}

// Range is an intensity interval used for normalization
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Span is Max-Min
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Info is a snapshot of a frame store for display and tooling.
type Info struct {
	Filepath          string     `json:"filepath"`
	FrameCount        int        `json:"frameCount"`
	CurrentFrameIndex int        `json:"currentFrameIndex"`
	BitDepth          int        `json:"bitDepth"`
	IsFloat           bool       `json:"isFloat"`
	CurrentRange      Range      `json:"currentRange"`
	DetectedRange     Range      `json:"detectedRange"`
	Forced            bool       `json:"forced"`
	Width             int        `json:"width"`
	Height            int        `json:"height"`
	Kind              SampleKind `json:"-"`
}

// FrameStats summarizes the raw samples of a single frame
type FrameStats struct {
	Index  int     `json:"index"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}
