// Package viewsync fans viewer changes out to the other viewers of a group.
//
// A change made on one viewer is applied to every other member that has
// synchronization of that axis enabled. Each (viewer, axis) pair carries a
// guard so that a receiver reacting to the change cannot bounce it back to
// the origin or loop through the group.
package viewsync

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"stacksync/pkg/viewer"
)

// Coordinator is a group of synchronized viewers. Like the viewers it holds,
// it is driven from a single goroutine.
type Coordinator struct {
	members []*viewer.State
	syncBy  SyncBy
	log     *logrus.Entry
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSyncBy sets how pan and zoom are scaled between differently sized
// images
func WithSyncBy(m SyncBy) Option {
	return func(c *Coordinator) {
		c.syncBy = m
	}
}

// WithLogger sets the log entry for delivery failures
func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// New creates an empty group
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		syncBy: ByBox,
		log:    logrus.WithField("component", "viewsync"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join adds v to the group. Joining twice is a no-op.
func (c *Coordinator) Join(v *viewer.State) {
	if slices.Contains(c.members, v) {
		return
	}
	c.members = append(c.members, v)
	v.Attach(c)
	c.log.WithField("viewer", v.Name()).Debug("viewer joined")
}

// Leave removes v from the group
func (c *Coordinator) Leave(v *viewer.State) {
	i := slices.Index(c.members, v)
	if i < 0 {
		return
	}
	c.members = slices.Delete(c.members, i, i+1)
	v.Detach()
	c.log.WithField("viewer", v.Name()).Debug("viewer left")
}

// Members returns the viewers in join order
func (c *Coordinator) Members() []*viewer.State {
	return slices.Clone(c.members)
}

func (c *Coordinator) Len() int {
	return len(c.members)
}

func (c *Coordinator) SyncBy() SyncBy {
	return c.syncBy
}

func (c *Coordinator) SetSyncBy(m SyncBy) {
	c.syncBy = m
}

// Propagate applies a change of origin's axis to every other member that
// synchronizes axis. It returns at once when origin is already propagating
// axis. A member that fails to apply the change is logged and skipped; the
// remaining members still receive it.
func (c *Coordinator) Propagate(origin *viewer.State, axis viewer.Axis, p viewer.Payload) {
	release, ok := origin.Acquire(axis)
	if !ok {
		return
	}
	defer release()

	for _, m := range c.Members() {
		if m == origin || !m.SyncEnabled(axis) || !slices.Contains(c.members, m) {
			continue
		}
		if err := c.deliver(origin, m, axis, p); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"origin":   origin.Name(),
				"receiver": m.Name(),
				"axis":     axis.String(),
			}).Warn("synchronization skipped viewer")
		}
	}
}

func (c *Coordinator) deliver(origin, m *viewer.State, axis viewer.Axis, p viewer.Payload) (err error) {
	release, ok := m.Acquire(axis)
	if !ok {
		return nil
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", axis, r)
		}
	}()

	switch axis {
	case viewer.AxisFrameIndex:
		return m.ApplyFrameIndex(viewer.ClampIndex(p.FrameIndex, m.FrameCount()))
	case viewer.AxisZoom:
		f := AdjustmentFactor(c.syncBy, origin.ImageSize(), m.ImageSize())
		return m.ApplyZoom(p.Zoom * f)
	case viewer.AxisPan:
		f := AdjustmentFactor(c.syncBy, origin.ImageSize(), m.ImageSize())
		m.ApplyCenter(viewer.Point{X: p.Center.X / f, Y: p.Center.Y / f})
		return nil
	case viewer.AxisIntensityRange:
		return m.ApplyRange(p.Range)
	default:
		return fmt.Errorf("unknown axis %s", axis)
	}
}

var _ viewer.Group = (*Coordinator)(nil)
