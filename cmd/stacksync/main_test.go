package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/internal/models"
	"stacksync/pkg/config"
	"stacksync/pkg/framestore"
	"stacksync/pkg/tiffstack"
)

// resetFlags restores every flag to its default so that commands can be run
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI in-process and returns its stdout
func run(t *testing.T, args ...string) string {
	t.Helper()
	resetFlags(rootCmd)
	cfg = config.DefaultConfig()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func synth(t *testing.T, dir, name string, frames int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	run(t, "synth", path, "--frames", strconv.Itoa(frames), "--width", "8", "--height", "6")
	return path
}

func TestSynthAndInfo(t *testing.T) {
	path := synth(t, t.TempDir(), "ball.tif", 5)

	var reports []infoReport
	require.NoError(t, json.Unmarshal([]byte(run(t, "info", "--json", path)), &reports))
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, 5, r.FrameCount)
	assert.Equal(t, 8, r.Width)
	assert.Equal(t, 6, r.Height)
	assert.Equal(t, "uint16", r.Kind)
	assert.Equal(t, 2, r.CurrentFrameIndex)
	assert.Equal(t, 0.0, r.DetectedRange.Min)
	assert.Greater(t, r.DetectedRange.Max, 0.0)
	assert.LessOrEqual(t, r.DetectedRange.Max, 4000.0)
	require.NotNil(t, r.Frame)
	assert.Equal(t, 2, r.Frame.Index)

	text := run(t, "info", path)
	assert.Contains(t, text, "Detected range")
}

func TestCompareClampsFrames(t *testing.T) {
	dir := t.TempDir()
	a := synth(t, dir, "a.tif", 5)
	b := synth(t, dir, "b.tif", 3)

	var reports []viewerReport
	out := run(t, "compare", a, b, "--frame", "4", "--zoom", "2", "--sync-by", "pixel", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)

	assert.Equal(t, 4, reports[0].Frame)
	assert.Equal(t, 2, reports[1].Frame)
	assert.Equal(t, 2.0, reports[1].Zoom)
	assert.True(t, reports[1].Volumetric)
	assert.ElementsMatch(t, []string{"pan", "zoom", "frame", "range"}, reports[1].Sync)
}

func TestCompareForcedRange(t *testing.T) {
	dir := t.TempDir()
	a := synth(t, dir, "a.tif", 4)
	b := synth(t, dir, "b.tif", 4)
	outDir := filepath.Join(dir, "shots")

	var reports []viewerReport
	out := run(t, "compare", a, b, "--min", "-50", "--max", "10000", "--force", "--out", outDir, "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &reports))

	assert.Equal(t, &models.Range{Min: -50, Max: 10000}, reports[0].Range)
	assert.True(t, reports[0].Forced)
	assert.False(t, reports[1].Forced)
	require.NotNil(t, reports[1].Range)
	assert.Equal(t, 0.0, reports[1].Range.Min)
	assert.FileExists(t, filepath.Join(outDir, "a_002.png"))
	assert.FileExists(t, filepath.Join(outDir, "b_002.png"))
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	path := synth(t, dir, "s.tif", 3)
	out := filepath.Join(dir, "frames")

	run(t, "export", path, "--out", out, "--format", "png")
	for _, name := range []string{"frame_000.png", "frame_001.png", "frame_002.png"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	slices := filepath.Join(dir, "slices")
	run(t, "export", path, "--out", slices, "--format", "tif", "--axis", "y")
	entries, err := os.ReadDir(slices)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestProfile(t *testing.T) {
	path := synth(t, t.TempDir(), "p.tif", 3)

	var p struct {
		Positions []float64 `json:"positions"`
		Values    []float64 `json:"values"`
	}
	out := run(t, "profile", path, "--from", "0,0", "--to", "7,5", "--samples", "4", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Len(t, p.Values, 4)
	assert.Equal(t, 0.0, p.Positions[0])
	assert.Equal(t, 0.0, p.Values[0])
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "stacksync.yaml")
	run(t, "config", "init", path)

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), loaded)
}

func TestParsePoint(t *testing.T) {
	p, err := parsePoint(" 1.5, 2 ")
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.X)
	assert.Equal(t, 2.0, p.Y)

	_, err = parsePoint("1")
	assert.Error(t, err)
	_, err = parsePoint("a,b")
	assert.Error(t, err)
}

func TestPhantomKinds(t *testing.T) {
	for _, kind := range []models.SampleKind{models.Unsigned8, models.SignedInt32, models.Float32} {
		frames := phantom(kind, 4, 5, 5, 200)
		require.Len(t, frames, 4)
		for _, f := range frames {
			assert.Equal(t, kind, f.Kind)
			assert.Len(t, f.Samples, 25)
		}
	}
}

func TestOpenViewerSniffsContainer(t *testing.T) {
	dir := t.TempDir()

	// a uint8 stack whose first pixels read as the CR2 marker
	path := filepath.Join(dir, "cr2ish.tif")
	require.NoError(t, tiffstack.Create(path, []*models.RawFrame{
		{Width: 2, Height: 2, Kind: models.Unsigned8, Samples: []float64{0x43, 0x52, 0x02, 9}},
		{Width: 2, Height: 2, Kind: models.Unsigned8, Samples: []float64{1, 2, 3, 4}},
	}))
	v, err := openViewer(path)
	require.NoError(t, err)
	defer v.Close()
	assert.NotNil(t, v.Store())
	assert.Equal(t, 2, v.FrameCount())

	// reading a directory fails before any decoder is tried
	_, err = openViewer(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, framestore.ErrIO)
}
