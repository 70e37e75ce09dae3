package viewer

import (
	"fmt"
	"strings"

	"stacksync/internal/models"
)

// Axis is one independently synchronized dimension of a viewer.
type Axis int

const (
	AxisPan Axis = iota
	AxisZoom
	AxisFrameIndex
	AxisIntensityRange

	numAxes
)

// Axes lists every axis in declaration order
var Axes = []Axis{AxisPan, AxisZoom, AxisFrameIndex, AxisIntensityRange}

func (a Axis) String() string {
	switch a {
	case AxisPan:
		return "pan"
	case AxisZoom:
		return "zoom"
	case AxisFrameIndex:
		return "frame"
	case AxisIntensityRange:
		return "range"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ParseAxis accepts the names returned by String; "slice" is an alias for
// the frame axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "pan":
		return AxisPan, nil
	case "zoom":
		return AxisZoom, nil
	case "frame", "slice":
		return AxisFrameIndex, nil
	case "range", "intensity":
		return AxisIntensityRange, nil
	}
	return 0, fmt.Errorf("unknown sync axis %q", s)
}

// GuardState is the reentrancy state of one (viewer, axis) pair
type GuardState int

const (
	Idle GuardState = iota
	Propagating
)

func (g GuardState) String() string {
	if g == Propagating {
		return "propagating"
	}
	return "idle"
}

// Point is a position in image pixel coordinates
type Point struct {
	X, Y float64
}

// Transform is the view of an image: Zoom is display pixels per image pixel,
// Center is the image point shown at the middle of the view.
type Transform struct {
	Zoom   float64
	Center Point
}

// Payload carries the value of one synchronized change. Only the field
// matching the propagated axis is read.
type Payload struct {
	FrameIndex int
	Center     Point
	Zoom       float64
	Range      models.Range
}
