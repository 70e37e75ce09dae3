// Package framestore owns one multi-frame stack: its metadata, the
// intensity window used to normalize raw samples for display, and a small
// cache of normalized frames.
//
// A FrameStore is not safe for concurrent use. It is driven from a single
// goroutine together with the viewers that display it.
package framestore

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stacksync/internal/models"
	"stacksync/pkg/decoder"
	"stacksync/pkg/tiffstack"
)

// FrameStore serves normalized and raw frames of one stack.
type FrameStore struct {
	stack   models.FrameStack
	dec     decoder.Decoder
	handle  decoder.Handle
	window  IntensityWindow
	cache   *FrameCache
	current int
	log     *logrus.Entry
}

type options struct {
	decoder decoder.Decoder
	logger  *logrus.Entry
}

// Option configures Open
type Option func(*options)

// WithDecoder replaces the default TIFF stack decoder
func WithDecoder(d decoder.Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithLogger sets the log entry used by the store
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open probes the stack at path and scans every frame to detect its
// intensity range. The current frame starts at the middle of the stack.
//
// Errors are *OpenError wrapping ErrUnsupportedSampleKind, ErrNotMultiFrame
// or ErrIO.
func Open(path string, opts ...Option) (*FrameStore, error) {
	o := options{decoder: tiffstack.Decoder{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger())
	}

	h, err := o.decoder.Open(path)
	if err != nil {
		return nil, openErr(path, ErrIO, err)
	}

	stack, err := probe(path, h.Header())
	if err != nil {
		h.Close()
		return nil, err
	}

	lo, hi, err := scan(h, stack)
	if err != nil {
		h.Close()
		return nil, openErr(path, ErrIO, err)
	}

	s := &FrameStore{
		stack:   stack,
		dec:     o.decoder,
		handle:  h,
		window:  newWindow(lo, hi, stack.Kind),
		cache:   NewFrameCache(CacheCapacity),
		current: stack.FrameCount / 2,
		log:     o.logger.WithField("stack", path),
	}
	s.log.WithFields(logrus.Fields{
		"frames":   stack.FrameCount,
		"kind":     stack.Kind,
		"width":    stack.Width,
		"height":   stack.Height,
		"detected": s.window.Detected(),
	}).Debug("opened frame stack")
	return s, nil
}

// probe validates a decoder header
func probe(path string, hdr decoder.Header) (models.FrameStack, error) {
	stack := models.FrameStack{
		Path:       path,
		FrameCount: hdr.FrameCount,
		Width:      hdr.Width,
		Height:     hdr.Height,
		Kind:       hdr.Kind,
	}
	switch {
	case !hdr.Kind.Supported():
		return stack, openErr(path, ErrUnsupportedSampleKind, errors.New(hdr.Description))
	case hdr.FrameCount < 1 || hdr.Width < 1 || hdr.Height < 1:
		return stack, openErr(path, ErrIO, fmt.Errorf("empty stack %dx%dx%d", hdr.Width, hdr.Height, hdr.FrameCount))
	case hdr.FrameCount == 1:
		return stack, openErr(path, ErrNotMultiFrame, nil)
	}
	return stack, nil
}

// scan folds the extrema of every frame into a global range. The pass is
// exhaustive and cannot be cancelled.
func scan(h decoder.Handle, stack models.FrameStack) (lo, hi float64, err error) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < stack.FrameCount; i++ {
		frame, err := read(h, stack, i)
		if err != nil {
			return 0, 0, err
		}
		if flo, fhi, ok := extrema(frame.Samples, stack.Kind.IsFloat()); ok {
			lo = math.Min(lo, flo)
			hi = math.Max(hi, fhi)
		}
	}
	return lo, hi, nil
}

func read(h decoder.Handle, stack models.FrameStack, index int) (*models.RawFrame, error) {
	if err := h.Seek(index); err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	frame, err := h.Decode()
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	if frame.Width != stack.Width || frame.Height != stack.Height || len(frame.Samples) != stack.Width*stack.Height {
		return nil, fmt.Errorf("frame %d: %w: got %dx%d with %d samples, want %dx%d",
			index, decoder.ErrCorrupt, frame.Width, frame.Height, len(frame.Samples), stack.Width, stack.Height)
	}
	return frame, nil
}

func (s *FrameStore) checkIndex(index int) error {
	if index < 0 || index >= s.stack.FrameCount {
		return &DecodeError{Index: index, Err: fmt.Errorf("%w: [0,%d)", ErrFrameOutOfRange, s.stack.FrameCount)}
	}
	return nil
}

// DecodeFrame returns frame index normalized to 8 bits with the current
// intensity window. Results are cached; callers must not modify them.
func (s *FrameStore) DecodeFrame(index int) (*image.Gray, error) {
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	if img, ok := s.cache.Get(index); ok {
		return img, nil
	}

	frame, err := read(s.handle, s.stack, index)
	if err != nil {
		return nil, &DecodeError{Index: index, Err: err}
	}

	img := Normalize(frame, s.window.CurrentMin, s.window.CurrentMax)
	if evicted := s.cache.Put(index, img); evicted >= 0 {
		s.log.WithFields(logrus.Fields{"frame": index, "evicted": evicted}).Trace("frame cache full")
	}
	return img, nil
}

// RawSamples returns the undecoded samples of frame index. The result is
// never cached.
func (s *FrameStore) RawSamples(index int) (*models.RawFrame, error) {
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	frame, err := read(s.handle, s.stack, index)
	if err != nil {
		return nil, &DecodeError{Index: index, Err: err}
	}
	return frame, nil
}

// UpdateRange moves the intensity window, see IntensityWindow.Apply. It
// reports whether the update was accepted; accepted updates drop every
// cached frame.
func (s *FrameStore) UpdateRange(u RangeUpdate) bool {
	if err := s.window.Apply(u); err != nil {
		s.log.WithError(err).Debug("intensity window update rejected")
		return false
	}
	s.cache.Clear()
	return true
}

// AdjustRange moves the bounds by whole quantization steps, the way a slider
// does. Zero deltas leave a bound alone.
func (s *FrameStore) AdjustRange(minSteps, maxSteps int) bool {
	if minSteps == 0 && maxSteps == 0 {
		return false
	}
	step := s.window.Step()
	var u RangeUpdate
	if minSteps != 0 {
		lo := s.window.Quantize(s.window.CurrentMin + float64(minSteps)*step)
		u.Min = &lo
	}
	if maxSteps != 0 {
		hi := s.window.Quantize(s.window.CurrentMax + float64(maxSteps)*step)
		u.Max = &hi
	}
	return s.UpdateRange(u)
}

// ResetRange restores the detected window and clears the forced flag
func (s *FrameStore) ResetRange() {
	s.window.Reset()
	s.cache.Clear()
}

// Rescan re-runs the exhaustive range detection, typically after the file
// changed on disk. A forced window is kept; otherwise the current window
// follows the new detected range. The stack must keep its layout.
func (s *FrameStore) Rescan() error {
	h, err := s.dec.Open(s.stack.Path)
	if err != nil {
		return openErr(s.stack.Path, ErrIO, err)
	}

	hdr := h.Header()
	if hdr.FrameCount != s.stack.FrameCount || hdr.Width != s.stack.Width ||
		hdr.Height != s.stack.Height || hdr.Kind != s.stack.Kind {
		h.Close()
		return openErr(s.stack.Path, ErrLayoutChanged, fmt.Errorf("now %dx%dx%d %s",
			hdr.Width, hdr.Height, hdr.FrameCount, hdr.Kind))
	}

	lo, hi, err := scan(h, s.stack)
	if err != nil {
		h.Close()
		return openErr(s.stack.Path, ErrIO, err)
	}

	if err := s.handle.Close(); err != nil {
		s.log.WithError(err).Warn("closing stale decoder handle")
	}
	s.handle = h
	s.window.redetect(lo, hi, s.stack.Kind)
	s.cache.Clear()

	s.log.WithFields(logrus.Fields{
		"detected": s.window.Detected(),
		"current":  s.window.Current(),
		"forced":   s.window.Forced,
	}).Info("rescanned frame stack")
	return nil
}

// SetCurrentFrame records index as the displayed frame. It reports false and
// changes nothing when index is out of range.
func (s *FrameStore) SetCurrentFrame(index int) bool {
	if s.checkIndex(index) != nil {
		return false
	}
	s.current = index
	return true
}

// CurrentFrame is the displayed frame index
func (s *FrameStore) CurrentFrame() int {
	return s.current
}

// Stack returns the stack metadata
func (s *FrameStore) Stack() models.FrameStack {
	return s.stack
}

// Window returns a copy of the intensity window
func (s *FrameStore) Window() IntensityWindow {
	return s.window
}

// Quantize snaps v onto the window's step grid
func (s *FrameStore) Quantize(v float64) float64 {
	return s.window.Quantize(v)
}

// CachedFrames lists the cached frame indices, oldest first
func (s *FrameStore) CachedFrames() []int {
	return s.cache.Keys()
}

// Info returns a snapshot of the store
func (s *FrameStore) Info() models.Info {
	return models.Info{
		Filepath:          s.stack.Path,
		FrameCount:        s.stack.FrameCount,
		CurrentFrameIndex: s.current,
		BitDepth:          s.stack.Kind.BitDepth(),
		IsFloat:           s.stack.Kind.IsFloat(),
		CurrentRange:      s.window.Current(),
		DetectedRange:     s.window.Detected(),
		Forced:            s.window.Forced,
		Width:             s.stack.Width,
		Height:            s.stack.Height,
		Kind:              s.stack.Kind,
	}
}

// Statistics summarizes the raw samples of frame index. Non-finite float
// samples are left out.
func (s *FrameStore) Statistics(index int) (models.FrameStats, error) {
	frame, err := s.RawSamples(index)
	if err != nil {
		return models.FrameStats{}, err
	}

	values := frame.Samples
	if s.stack.Kind.IsFloat() {
		values = finite(values)
	}
	st := models.FrameStats{Index: index}
	if len(values) == 0 {
		return st, nil
	}
	st.Min = floats.Min(values)
	st.Max = floats.Max(values)
	st.Mean, st.StdDev = stat.PopMeanStdDev(values, nil)
	return st, nil
}

// Close releases the decoder handle and drops cached frames
func (s *FrameStore) Close() error {
	s.cache.Clear()
	return s.handle.Close()
}
