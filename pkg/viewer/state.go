// Package viewer holds the per-window state of a stack viewer: what it
// displays, its view transform, which axes it synchronizes and the
// reentrancy guard of each axis.
//
// User actions (SetFrameIndex, SetZoom, UpdateRange, ...) apply locally and
// then hand the change to the viewer's group. The Apply* methods are the
// receiving side used by the group; they never propagate.
package viewer

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stacksync/pkg/framestore"
)

var (
	// ErrNotVolumetric is returned by frame and range actions on a viewer
	// showing a static image.
	ErrNotVolumetric = errors.New("viewer has no volumetric data")

	// ErrInvalidZoom rejects non-positive zoom factors
	ErrInvalidZoom = errors.New("zoom must be positive")
)

// Content is what a viewer displays: a StaticImage or a Volume.
type Content interface {
	isContent()
}

// StaticImage is a single raster with no frames or intensity window.
type StaticImage struct {
	Image image.Image
}

// Volume is a multi-frame stack served by a frame store.
type Volume struct {
	Store *framestore.FrameStore
}

func (StaticImage) isContent() {}
func (Volume) isContent()      {}

// Group receives a viewer's changes for fan-out to its siblings.
type Group interface {
	Propagate(origin *State, axis Axis, p Payload)
	Leave(v *State)
}

// RenderFunc is called after the displayed raster or transform changed.
type RenderFunc func(v *State, axis Axis)

// State is one open viewer window.
type State struct {
	id        uuid.UUID
	name      string
	content   Content
	raster    image.Image
	transform Transform
	sync      [numAxes]bool
	guard     [numAxes]GuardState
	group     Group
	onRender  RenderFunc
	log       *logrus.Entry
}

func newState(name string, content Content, raster image.Image) *State {
	id := uuid.New()
	b := raster.Bounds()
	v := &State{
		id:      id,
		name:    name,
		content: content,
		raster:  raster,
		transform: Transform{
			Zoom:   1,
			Center: Point{X: float64(b.Dx()) / 2, Y: float64(b.Dy()) / 2},
		},
		log: logrus.WithFields(logrus.Fields{"viewer": name, "id": id.String()}),
	}
	for _, a := range Axes {
		v.sync[a] = true
	}
	return v
}

// NewStatic creates a viewer showing img
func NewStatic(name string, img image.Image) *State {
	return newState(name, StaticImage{Image: img}, img)
}

// NewVolumetric creates a viewer on store, showing its current frame.
func NewVolumetric(name string, store *framestore.FrameStore) (*State, error) {
	img, err := store.DecodeFrame(store.CurrentFrame())
	if err != nil {
		return nil, err
	}
	return newState(name, Volume{Store: store}, img), nil
}

func (v *State) ID() uuid.UUID        { return v.id }
func (v *State) Name() string         { return v.name }
func (v *State) Content() Content     { return v.content }
func (v *State) Raster() image.Image  { return v.raster }
func (v *State) Transform() Transform { return v.transform }

func (v *State) String() string {
	return fmt.Sprintf("%s (%s)", v.name, v.id)
}

// ImageSize is the pixel size of the displayed image
func (v *State) ImageSize() image.Point {
	return v.raster.Bounds().Size()
}

// Store returns the frame store of a volumetric viewer, or nil
func (v *State) Store() *framestore.FrameStore {
	if vol, ok := v.content.(Volume); ok {
		return vol.Store
	}
	return nil
}

// FrameIndex is the displayed frame; always 0 for static images
func (v *State) FrameIndex() int {
	switch c := v.content.(type) {
	case Volume:
		return c.Store.CurrentFrame()
	default:
		return 0
	}
}

// FrameCount is the number of frames; 1 for static images
func (v *State) FrameCount() int {
	switch c := v.content.(type) {
	case Volume:
		return c.Store.Stack().FrameCount
	default:
		return 1
	}
}

// SyncEnabled reports whether the viewer takes part in synchronization of axis
func (v *State) SyncEnabled(axis Axis) bool {
	return v.sync[axis]
}

// SetSync toggles synchronization of one axis
func (v *State) SetSync(axis Axis, on bool) {
	v.sync[axis] = on
}

// Guard returns the reentrancy state of axis
func (v *State) Guard(axis Axis) GuardState {
	return v.guard[axis]
}

// Acquire moves the guard of axis to Propagating. ok is false when it already
// was; otherwise release must be called exactly once to return it to Idle:
//
//	release, ok := v.Acquire(axis)
//	if !ok {
//		return
//	}
//	defer release()
func (v *State) Acquire(axis Axis) (release func(), ok bool) {
	if v.guard[axis] == Propagating {
		return func() {}, false
	}
	v.guard[axis] = Propagating
	return func() { v.guard[axis] = Idle }, true
}

// OnRender installs the render hook
func (v *State) OnRender(fn RenderFunc) {
	v.onRender = fn
}

// Attach binds the viewer to a group. Groups call it from Join.
func (v *State) Attach(g Group) {
	v.group = g
}

// Detach unbinds the viewer. Groups call it from Leave.
func (v *State) Detach() {
	v.group = nil
}

// Joined reports whether the viewer belongs to a group
func (v *State) Joined() bool {
	return v.group != nil
}

// Close leaves the group and releases the frame store
func (v *State) Close() error {
	if v.group != nil {
		v.group.Leave(v)
	}
	if store := v.Store(); store != nil {
		return store.Close()
	}
	return nil
}

func (v *State) render(axis Axis) {
	if v.onRender != nil {
		v.onRender(v, axis)
	}
}

// propagate hands a local change to the group when this viewer syncs axis
func (v *State) propagate(axis Axis, p Payload) {
	if v.group == nil || !v.sync[axis] {
		return
	}
	v.group.Propagate(v, axis, p)
}
