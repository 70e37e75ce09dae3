package viewsync

import (
	"image"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/internal/models"
	"stacksync/pkg/decoder"
	"stacksync/pkg/framestore"
	"stacksync/pkg/viewer"
)

func volume(t *testing.T, name string, frames, width, height int, scale float64) *viewer.State {
	t.Helper()
	stack := make([]*models.RawFrame, frames)
	for z := range stack {
		stack[z] = decoder.Frame(models.Unsigned16, width, height, func(x, y int) float64 {
			return scale * float64(z*width*height+y*width+x)
		})
	}
	mem := decoder.NewMemory()
	mem.Add(name, stack)
	store, err := framestore.Open(name, framestore.WithDecoder(mem))
	require.NoError(t, err)
	v, err := viewer.NewVolumetric(name, store)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func quietGroup(t *testing.T, opts ...Option) (*Coordinator, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(append([]Option{WithLogger(logrus.NewEntry(logger))}, opts...)...), hook
}

func TestFrameIndexClampedPerReceiver(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 5, 2, 2, 1)
	b := volume(t, "b", 3, 2, 2, 1)
	g.Join(a)
	g.Join(b)

	require.NoError(t, a.SetFrameIndex(4))
	assert.Equal(t, 4, a.FrameIndex())
	assert.Equal(t, 2, b.FrameIndex())

	require.NoError(t, b.SetFrameIndex(0))
	assert.Equal(t, 0, a.FrameIndex())
}

func TestOriginAppliesOnce(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 5, 2, 2, 1)
	b := volume(t, "b", 5, 2, 2, 1)
	c := volume(t, "c", 5, 2, 2, 1)
	for _, v := range []*viewer.State{a, b, c} {
		g.Join(v)
	}

	renders := map[string]int{}
	echoed := map[string]bool{}
	hook := func(v *viewer.State, axis viewer.Axis) {
		renders[v.Name()]++
		// a receiver reacting like a user action must not echo back
		if v != a && !echoed[v.Name()] {
			echoed[v.Name()] = true
			require.NoError(t, v.SetFrameIndex(v.FrameIndex()))
		}
	}
	for _, v := range g.Members() {
		v.OnRender(hook)
	}

	require.NoError(t, a.SetFrameIndex(1))
	assert.Equal(t, 1, renders["a"])
	assert.True(t, echoed["b"])
	assert.True(t, echoed["c"])
	for _, v := range g.Members() {
		assert.Equal(t, 1, v.FrameIndex())
		for _, axis := range viewer.Axes {
			assert.Equal(t, viewer.Idle, v.Guard(axis))
		}
	}
}

func TestSyncDisabledReceiverSkipped(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 5, 2, 2, 1)
	b := volume(t, "b", 5, 2, 2, 1)
	c := volume(t, "c", 5, 2, 2, 1)
	g.Join(a)
	g.Join(b)
	g.Join(c)
	b.SetSync(viewer.AxisFrameIndex, false)

	require.NoError(t, a.SetFrameIndex(0))
	assert.Equal(t, 2, b.FrameIndex())
	assert.Equal(t, 0, c.FrameIndex())

	a.SetSync(viewer.AxisFrameIndex, false)
	require.NoError(t, a.SetFrameIndex(4))
	assert.Equal(t, 0, c.FrameIndex())
}

func TestFailingReceiverDoesNotStopSiblings(t *testing.T) {
	g, hook := quietGroup(t)
	a := volume(t, "a", 5, 2, 2, 1)
	b := volume(t, "b", 5, 2, 2, 1)
	c := volume(t, "c", 5, 2, 2, 1)
	g.Join(a)
	g.Join(b)
	g.Join(c)
	b.OnRender(func(*viewer.State, viewer.Axis) { panic("render failed") })

	require.NoError(t, a.SetFrameIndex(3))
	assert.Equal(t, 3, c.FrameIndex())
	assert.Equal(t, viewer.Idle, b.Guard(viewer.AxisFrameIndex))
	assert.Equal(t, viewer.Idle, a.Guard(viewer.AxisFrameIndex))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "b", entry.Data["receiver"])
}

func TestStaticReceiverGetsBlankFrame(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 5, 2, 2, 1)
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	img.Pix[4] = 99
	s := viewer.NewStatic("s", img)
	g.Join(a)
	g.Join(s)

	require.NoError(t, a.SetFrameIndex(1))
	assert.Equal(t, uint8(0), s.Raster().(*image.Gray).Pix[4])

	ok, err := a.UpdateRange(framestore.Bounds(1, 2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRangeMergedIntoReceiverDetected(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 3, 2, 2, 100)
	b := volume(t, "b", 3, 2, 2, 1)
	g.Join(a)
	g.Join(b)

	ok, err := a.ForceRange(5, 900)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, models.Range{Min: 5, Max: 11}, b.Store().Info().CurrentRange)
	assert.False(t, b.Store().Info().Forced)

	require.NoError(t, a.ResetRange())
	assert.Equal(t, models.Range{Min: 0, Max: 11}, b.Store().Info().CurrentRange)
}

func TestZoomAndPanScaled(t *testing.T) {
	g, _ := quietGroup(t, WithSyncBy(ByWidth))
	a := volume(t, "a", 2, 8, 4, 1)
	b := volume(t, "b", 2, 4, 4, 1)
	g.Join(a)
	g.Join(b)

	require.NoError(t, a.SetZoom(1.5))
	assert.Equal(t, 3.0, b.Transform().Zoom)
	assert.Equal(t, viewer.Point{X: 2, Y: 1}, b.Transform().Center)

	a.SetCenter(viewer.Point{X: 6, Y: 2})
	assert.Equal(t, viewer.Point{X: 3, Y: 1}, b.Transform().Center)

	g.SetSyncBy(ByPixel)
	a.SetCenter(viewer.Point{X: 7, Y: 3})
	assert.Equal(t, viewer.Point{X: 7, Y: 3}, b.Transform().Center)
}

func TestJoinLeave(t *testing.T) {
	g, _ := quietGroup(t)
	a := volume(t, "a", 3, 2, 2, 1)
	b := volume(t, "b", 3, 2, 2, 1)

	g.Join(a)
	g.Join(a)
	g.Join(b)
	assert.Equal(t, 2, g.Len())
	assert.True(t, a.Joined())

	g.Leave(b)
	assert.False(t, b.Joined())
	require.NoError(t, a.SetFrameIndex(0))
	assert.Equal(t, 1, b.FrameIndex())

	require.NoError(t, a.Close())
	assert.Equal(t, 0, g.Len())
}

func TestAdjustmentFactor(t *testing.T) {
	sender := image.Pt(200, 100)
	receiver := image.Pt(100, 100)

	assert.Equal(t, 1.0, AdjustmentFactor(ByBox, sender, receiver))
	assert.Equal(t, 2.0, AdjustmentFactor(ByWidth, sender, receiver))
	assert.Equal(t, 1.0, AdjustmentFactor(ByHeight, sender, receiver))
	assert.Equal(t, 1.0, AdjustmentFactor(ByPixel, sender, receiver))
	assert.Equal(t, 1.0, AdjustmentFactor(ByWidth, sender, image.Pt(0, 10)))

	for _, m := range []SyncBy{ByBox, ByWidth, ByHeight, ByPixel} {
		got, err := ParseSyncBy(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseSyncBy("diagonal")
	assert.Error(t, err)
}
