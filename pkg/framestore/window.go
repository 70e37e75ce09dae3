package framestore

import (
	"math"

	"stacksync/internal/models"
)

// floatSteps is the number of quantization steps across the detected span of
// a floating point stack.
const floatSteps = 10000

// IntensityWindow is the (min,max) normalization model of one stack.
// CurrentMin < CurrentMax holds at all times.
type IntensityWindow struct {
	DetectedMin float64
	DetectedMax float64
	CurrentMin  float64
	CurrentMax  float64

	// Forced pins the current window until Reset, suppressing automatic
	// re-detection.
	Forced bool

	isFloat bool
}

// RangeUpdate is a request to move the window. Nil bounds are left as they
// are. Force only takes effect when both bounds are given.
type RangeUpdate struct {
	Min   *float64
	Max   *float64
	Force bool
}

// Bounds is a RangeUpdate setting both bounds
func Bounds(lo, hi float64) RangeUpdate {
	return RangeUpdate{Min: &lo, Max: &hi}
}

// Force is a forcing RangeUpdate setting both bounds
func Force(lo, hi float64) RangeUpdate {
	return RangeUpdate{Min: &lo, Max: &hi, Force: true}
}

// MinOnly moves only the lower bound
func MinOnly(lo float64) RangeUpdate {
	return RangeUpdate{Min: &lo}
}

// MaxOnly moves only the upper bound
func MaxOnly(hi float64) RangeUpdate {
	return RangeUpdate{Max: &hi}
}

// newWindow builds a window from scanned extrema. A degenerate scan (constant
// stack or no finite samples) is widened by one step so the window stays open.
func newWindow(lo, hi float64, kind models.SampleKind) IntensityWindow {
	w := IntensityWindow{isFloat: kind.IsFloat()}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
		lo, hi = 0, 0
	}
	w.DetectedMin, w.DetectedMax = lo, hi
	if hi <= lo {
		w.DetectedMax = lo + w.Step()
	}
	w.CurrentMin, w.CurrentMax = w.DetectedMin, w.DetectedMax
	return w
}

// Step is the quantization granularity of the window: one raw unit for
// integer stacks, 1/10000 of the detected span for float stacks.
func (w *IntensityWindow) Step() float64 {
	if !w.isFloat {
		return 1
	}
	span := w.DetectedMax - w.DetectedMin
	if span <= 0 {
		return 1.0 / floatSteps
	}
	return span / floatSteps
}

// Quantize snaps v onto the step grid anchored at DetectedMin.
func (w *IntensityWindow) Quantize(v float64) float64 {
	step := w.Step()
	return w.DetectedMin + math.Round((v-w.DetectedMin)/step)*step
}

// Current returns the current bounds
func (w *IntensityWindow) Current() models.Range {
	return models.Range{Min: w.CurrentMin, Max: w.CurrentMax}
}

// Detected returns the scanned bounds
func (w *IntensityWindow) Detected() models.Range {
	return models.Range{Min: w.DetectedMin, Max: w.DetectedMax}
}

// Apply moves the window. A forcing update with both bounds replaces them
// verbatim and pins the window. Otherwise the given bounds are clamped to the
// detected range and merged onto the current ones; a lone bound pushed across
// the other is held one step away from it, without leaving the detected range.
// An update that still leaves min >= max, or a non-finite window, returns a
// *RangeError and changes nothing.
func (w *IntensityWindow) Apply(u RangeUpdate) error {
	if u.Force && u.Min != nil && u.Max != nil {
		lo, hi := *u.Min, *u.Max
		if !(lo < hi) || !isFinite(lo) || !isFinite(hi) || !isFinite(hi-lo) {
			return &RangeError{Min: lo, Max: hi}
		}
		w.CurrentMin, w.CurrentMax = lo, hi
		w.Forced = true
		return nil
	}

	lo, hi := w.CurrentMin, w.CurrentMax
	if u.Min != nil {
		lo = clamp(*u.Min, w.DetectedMin, w.DetectedMax)
	}
	if u.Max != nil {
		hi = clamp(*u.Max, w.DetectedMin, w.DetectedMax)
	}

	step := w.Step()
	switch {
	case u.Min != nil && u.Max == nil && lo >= hi:
		lo = math.Max(hi-step, w.DetectedMin)
	case u.Max != nil && u.Min == nil && hi <= lo:
		hi = math.Min(lo+step, w.DetectedMax)
	}

	if !(lo < hi) || math.IsNaN(lo) || math.IsNaN(hi) {
		return &RangeError{Min: lo, Max: hi}
	}
	w.CurrentMin, w.CurrentMax = lo, hi
	return nil
}

// Reset restores the detected bounds and clears Forced
func (w *IntensityWindow) Reset() {
	w.CurrentMin, w.CurrentMax = w.DetectedMin, w.DetectedMax
	w.Forced = false
}

// redetect adopts newly scanned bounds. The current window follows them
// unless it is forced.
func (w *IntensityWindow) redetect(lo, hi float64, kind models.SampleKind) {
	fresh := newWindow(lo, hi, kind)
	w.DetectedMin, w.DetectedMax = fresh.DetectedMin, fresh.DetectedMax
	if !w.Forced {
		w.CurrentMin, w.CurrentMax = fresh.CurrentMin, fresh.CurrentMax
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
