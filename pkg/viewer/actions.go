package viewer

import (
	"fmt"
	"image"

	"stacksync/internal/models"
	"stacksync/pkg/framestore"
)

// ClampIndex limits index to [0, count-1]
func ClampIndex(index, count int) int {
	if index >= count {
		index = count - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// SetFrameIndex shows frame index (clamped to the stack) and synchronizes it.
func (v *State) SetFrameIndex(index int) error {
	if _, ok := v.content.(Volume); !ok {
		return ErrNotVolumetric
	}
	if err := v.ApplyFrameIndex(index); err != nil {
		return err
	}
	v.propagate(AxisFrameIndex, Payload{FrameIndex: v.FrameIndex()})
	return nil
}

// NextFrame steps forward one frame; it does nothing on the last frame
func (v *State) NextFrame() error {
	if _, ok := v.content.(Volume); !ok {
		return ErrNotVolumetric
	}
	if v.FrameIndex() >= v.FrameCount()-1 {
		return nil
	}
	return v.SetFrameIndex(v.FrameIndex() + 1)
}

// PreviousFrame steps back one frame; it does nothing on the first frame
func (v *State) PreviousFrame() error {
	if _, ok := v.content.(Volume); !ok {
		return ErrNotVolumetric
	}
	if v.FrameIndex() <= 0 {
		return nil
	}
	return v.SetFrameIndex(v.FrameIndex() - 1)
}

// SetZoom changes the zoom factor and synchronizes zoom, then pan.
func (v *State) SetZoom(zoom float64) error {
	if err := v.ApplyZoom(zoom); err != nil {
		return err
	}
	v.propagate(AxisZoom, Payload{Zoom: zoom})
	v.propagate(AxisPan, Payload{Center: v.transform.Center})
	return nil
}

// SetCenter pans to center and synchronizes it
func (v *State) SetCenter(center Point) {
	v.ApplyCenter(center)
	v.propagate(AxisPan, Payload{Center: center})
}

// UpdateRange moves the intensity window of a volumetric viewer. It reports
// whether the store accepted the update; only accepted updates re-render and
// synchronize.
func (v *State) UpdateRange(u framestore.RangeUpdate) (bool, error) {
	vol, ok := v.content.(Volume)
	if !ok {
		return false, ErrNotVolumetric
	}
	if !vol.Store.UpdateRange(u) {
		return false, nil
	}
	return true, v.rangeChanged(vol.Store)
}

// AdjustRange moves the window bounds by whole quantization steps
func (v *State) AdjustRange(minSteps, maxSteps int) (bool, error) {
	vol, ok := v.content.(Volume)
	if !ok {
		return false, ErrNotVolumetric
	}
	if !vol.Store.AdjustRange(minSteps, maxSteps) {
		return false, nil
	}
	return true, v.rangeChanged(vol.Store)
}

// ForceRange pins the window to [lo,hi]
func (v *State) ForceRange(lo, hi float64) (bool, error) {
	return v.UpdateRange(framestore.Force(lo, hi))
}

// ResetRange restores the detected window and synchronizes it
func (v *State) ResetRange() error {
	vol, ok := v.content.(Volume)
	if !ok {
		return ErrNotVolumetric
	}
	vol.Store.ResetRange()
	return v.rangeChanged(vol.Store)
}

func (v *State) rangeChanged(store *framestore.FrameStore) error {
	if err := v.redecode(store); err != nil {
		return err
	}
	v.propagate(AxisIntensityRange, Payload{Range: store.Info().CurrentRange})
	return nil
}

func (v *State) redecode(store *framestore.FrameStore) error {
	img, err := store.DecodeFrame(store.CurrentFrame())
	if err != nil {
		return err
	}
	v.raster = img
	v.render(AxisIntensityRange)
	return nil
}

// ApplyFrameIndex shows frame index without synchronizing. Volumes clamp
// index to their stack; static images are replaced by a blank raster of the
// same size, since they have no such frame.
func (v *State) ApplyFrameIndex(index int) error {
	switch c := v.content.(type) {
	case Volume:
		index = ClampIndex(index, c.Store.Stack().FrameCount)
		img, err := c.Store.DecodeFrame(index)
		if err != nil {
			return err
		}
		c.Store.SetCurrentFrame(index)
		v.raster = img
	case StaticImage:
		v.raster = image.NewGray(v.raster.Bounds())
	default:
		return fmt.Errorf("unknown viewer content %T", c)
	}
	v.render(AxisFrameIndex)
	return nil
}

// ApplyZoom sets the zoom factor without synchronizing
func (v *State) ApplyZoom(zoom float64) error {
	if !(zoom > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidZoom, zoom)
	}
	v.transform.Zoom = zoom
	v.render(AxisZoom)
	return nil
}

// ApplyCenter pans without synchronizing
func (v *State) ApplyCenter(center Point) {
	v.transform.Center = center
	v.render(AxisPan)
}

// ApplyRange merges r into a volume's window, clamped to its own detected
// range, and re-decodes the current frame. A rejected window leaves the
// store unchanged. Static images ignore ranges.
func (v *State) ApplyRange(r models.Range) error {
	switch c := v.content.(type) {
	case Volume:
		if !c.Store.UpdateRange(framestore.Bounds(r.Min, r.Max)) {
			v.log.WithField("range", r).Debug("synchronized range rejected")
		}
		return v.redecode(c.Store)
	case StaticImage:
		return nil
	default:
		return fmt.Errorf("unknown viewer content %T", c)
	}
}

// ApplyTransform sets zoom and center together without synchronizing
func (v *State) ApplyTransform(t Transform) error {
	if !(t.Zoom > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidZoom, t.Zoom)
	}
	v.transform = t
	v.render(AxisZoom)
	return nil
}
