package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"

	"stacksync/internal/models"
	"stacksync/pkg/framestore"
)

// Options controls how frames are encoded
type Options struct {
	// JPEGQuality is used for .jpg/.jpeg output, 1 to 100
	JPEGQuality int
}

// DefaultOptions matches the export defaults of the CLI
var DefaultOptions = Options{JPEGQuality: 90}

// Viewer exports normalized views of a frame stack. Every view uses the
// store's current intensity window.
type Viewer struct {
	store *framestore.FrameStore
	opts  Options
}

// NewViewer creates an exporter on store
func NewViewer(store *framestore.FrameStore, opts Options) *Viewer {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = DefaultOptions.JPEGQuality
	}
	return &Viewer{store: store, opts: opts}
}

// ExtractSlice returns the plane at position along axis. "z" is a stored
// frame; "x" and "y" are resliced across all frames, giving a
// depth x height and a width x depth image respectively.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	stack := v.store.Stack()
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	switch strings.ToLower(axis) {
	case "z":
		return v.store.DecodeFrame(position)
	case "x":
		if position >= stack.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, stack.Width)
		}
		return v.reslice(stack.FrameCount, stack.Height, func(f *models.RawFrame, z, y int) float64 {
			return f.At(position, y)
		}, func(z, y int) (int, int) { return z, y })
	case "y":
		if position >= stack.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, stack.Height)
		}
		return v.reslice(stack.Width, stack.FrameCount, func(f *models.RawFrame, z, x int) float64 {
			return f.At(x, position)
		}, func(z, x int) (int, int) { return x, z })
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// reslice builds a width x height plane taking, for every frame z and
// in-plane index i, sample(frame, z, i) and storing it at place(z, i).
func (v *Viewer) reslice(width, height int, sample func(f *models.RawFrame, z, i int) float64, place func(z, i int) (int, int)) (*image.Gray, error) {
	stack := v.store.Stack()
	plane := &models.RawFrame{
		Width:   width,
		Height:  height,
		Kind:    stack.Kind,
		Samples: make([]float64, width*height),
	}

	inPlane := width * height / stack.FrameCount
	for z := 0; z < stack.FrameCount; z++ {
		f, err := v.store.RawSamples(z)
		if err != nil {
			return nil, err
		}
		for i := 0; i < inPlane; i++ {
			x, y := place(z, i)
			plane.Samples[y*width+x] = sample(f, z, i)
		}
	}

	cur := v.store.Info().CurrentRange
	return framestore.Normalize(plane, cur.Min, cur.Max), nil
}

// SaveSlice writes img to filename, see SaveFrame
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return SaveFrame(img, filename, v.opts)
}

// SaveSliceSequence writes every plane along axis to outputDir as
// slice_<axis>_NNN.<format>.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, format string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	stack := v.store.Stack()
	var maxPos int
	switch strings.ToLower(axis) {
	case "x":
		maxPos = stack.Width
	case "y":
		maxPos = stack.Height
	case "z":
		maxPos = stack.FrameCount
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", strings.ToLower(axis), pos, format))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"axis":   axis,
		"count":  maxPos,
		"output": outputDir,
	}).Debug("saved slice sequence")
	return maxPos, nil
}

// SaveFrameSequence writes every frame of store to outputDir as
// frame_NNN.<format> using the current intensity window.
func SaveFrameSequence(store *framestore.FrameStore, outputDir string, format string, opts Options) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	n := store.Stack().FrameCount
	for i := 0; i < n; i++ {
		img, err := store.DecodeFrame(i)
		if err != nil {
			return i, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("frame_%03d.%s", i, format))
		if err := SaveFrame(img, filename, opts); err != nil {
			return i, err
		}
	}
	return n, nil
}

// SaveFrame writes img to filename, choosing PNG, JPEG or TIFF from the
// extension.
func SaveFrame(img image.Image, filename string, opts Options) error {
	encode, err := encoderFor(filename, opts)
	if err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return file.Close()
}

func encoderFor(filename string, opts Options) (func(io.Writer, image.Image) error, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return png.Encode, nil
	case ".jpg", ".jpeg":
		q := opts.JPEGQuality
		if q <= 0 {
			q = DefaultOptions.JPEGQuality
		}
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
		}, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported image format %q (use png, jpg or tif)", filepath.Ext(filename))
	}
}
