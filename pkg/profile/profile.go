// Package profile samples raw intensities along a line through a frame.
package profile

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"stacksync/internal/models"
)

// DefaultSamples is used when Sample is asked for no samples
const DefaultSamples = 1000

// ErrEmptyFrame is returned for frames without pixels
var ErrEmptyFrame = errors.New("frame has no pixels")

// Point is a position in pixel coordinates; pixel centers sit on integers.
type Point struct {
	X, Y float64
}

// Profile is a line profile. Positions[i] is the distance of sample i from
// From, Values[i] the interpolated raw intensity there.
type Profile struct {
	From      Point     `json:"from"`
	To        Point     `json:"to"`
	Positions []float64 `json:"positions"`
	Values    []float64 `json:"values"`
}

// Len returns the number of samples
func (p *Profile) Len() int {
	return len(p.Values)
}

// Sample takes n evenly spaced samples from `from` to `to`, both included,
// interpolating the raw samples of frame bilinearly. Coordinates outside
// the frame are clamped to its edge.
func Sample(frame *models.RawFrame, from, to Point, n int) (*Profile, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil, ErrEmptyFrame
	}
	if n <= 0 {
		n = DefaultSamples
	}

	p := &Profile{
		From:      from,
		To:        to,
		Positions: make([]float64, n),
		Values:    make([]float64, n),
	}
	if n == 1 {
		p.Values[0] = bilinear(frame, from.X, from.Y)
		return p, nil
	}

	xs := floats.Span(make([]float64, n), from.X, to.X)
	ys := floats.Span(make([]float64, n), from.Y, to.Y)
	length := math.Hypot(to.X-from.X, to.Y-from.Y)
	floats.Span(p.Positions, 0, length)

	for i := range p.Values {
		p.Values[i] = bilinear(frame, xs[i], ys[i])
	}
	return p, nil
}

// bilinear interpolates frame at (x,y) from its four neighbouring pixels
func bilinear(frame *models.RawFrame, x, y float64) float64 {
	x = clamp(x, 0, float64(frame.Width-1))
	y = clamp(y, 0, float64(frame.Height-1))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, frame.Width-1), min(y0+1, frame.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	top := lerp(frame.At(x0, y0), frame.At(x1, y0), fx)
	bottom := lerp(frame.At(x0, y1), frame.At(x1, y1), fx)
	return lerp(top, bottom, fy)
}

func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
