package framestore

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"stacksync/internal/models"
)

// Normalize maps raw samples to an 8-bit raster: each sample is clamped to
// [lo,hi], rescaled linearly onto [0,255] and rounded to the nearest integer.
// NaN samples map to 0. A window with hi <= lo yields a black raster.
func Normalize(frame *models.RawFrame, lo, hi float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	if !(hi > lo) {
		return img
	}

	span := hi - lo
	for i, v := range frame.Samples {
		switch {
		case math.IsNaN(v) || v <= lo:
			img.Pix[i] = 0
		case v >= hi:
			img.Pix[i] = 255
		default:
			img.Pix[i] = uint8(math.Round((v - lo) * 255 / span))
		}
	}
	return img
}

// extrema returns the smallest and largest finite samples. ok is false when
// there are none.
func extrema(samples []float64, isFloat bool) (lo, hi float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	if !isFloat {
		return floats.Min(samples), floats.Max(samples), true
	}

	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, lo <= hi
}

// finite returns the finite samples, reusing the input when all are finite
func finite(samples []float64) []float64 {
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out := append([]float64(nil), samples[:i]...)
			for _, w := range samples[i+1:] {
				if !math.IsNaN(w) && !math.IsInf(w, 0) {
					out = append(out, w)
				}
			}
			return out
		}
	}
	return samples
}
