package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stacksync/internal/models"
	"stacksync/internal/validate"
	"stacksync/pkg/config"
	"stacksync/pkg/framestore"
	"stacksync/pkg/profile"
	"stacksync/pkg/tiffstack"
	"stacksync/pkg/viewer"
	"stacksync/pkg/viewsync"
	"stacksync/pkg/visualization"
	"stacksync/pkg/watch"
)

// rangeFlags are the intensity window flags shared by several commands
type rangeFlags struct {
	min, max float64
	force    bool
}

func (r *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&r.min, "min", 0, "Lower bound of the intensity window")
	cmd.Flags().Float64Var(&r.max, "max", 0, "Upper bound of the intensity window")
	cmd.Flags().BoolVar(&r.force, "force", false, "Use --min/--max as given instead of clamping them to the detected range")
}

// update builds the window update requested on the command line. ok is false
// when neither bound was given.
func (r *rangeFlags) update(cmd *cobra.Command) (u framestore.RangeUpdate, ok bool) {
	minSet, maxSet := cmd.Flags().Changed("min"), cmd.Flags().Changed("max")
	switch {
	case minSet && maxSet && r.force:
		return framestore.Force(r.min, r.max), true
	case minSet && maxSet:
		return framestore.Bounds(r.min, r.max), true
	case minSet:
		return framestore.MinOnly(r.min), true
	case maxSet:
		return framestore.MaxOnly(r.max), true
	}
	return u, false
}

func openStore(path string) (*framestore.FrameStore, error) {
	return framestore.Open(path, framestore.WithLogger(logrus.WithField("stack", path)))
}

// parsePoint reads "x,y"
func parsePoint(s string) (profile.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return profile.Point{}, fmt.Errorf("point %q must be x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return profile.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return profile.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return profile.Point{X: x, Y: y}, nil
}

var infoFrame int

var infoCmd = &cobra.Command{
	Use:   "info STACK...",
	Short: "Show the layout and intensity range of frame stacks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var reports []infoReport
		for _, path := range args {
			store, err := openStore(path)
			if err != nil {
				return err
			}
			index := store.CurrentFrame()
			if cmd.Flags().Changed("frame") {
				index = infoFrame
			}
			stats, err := store.Statistics(index)
			if err != nil {
				store.Close()
				return err
			}
			reports = append(reports, infoReport{Info: store.Info(), Kind: store.Stack().Kind.String(), Frame: &stats})
			store.Close()
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), reports)
		}
		for _, r := range reports {
			fmt.Fprintln(cmd.OutOrStdout(), renderInfo(r))
		}
		return nil
	},
}

var (
	exportOut    string
	exportFormat string
	exportAxis   string
	exportRange  rangeFlags
)

var exportCmd = &cobra.Command{
	Use:   "export STACK",
	Short: "Write normalized frames or orthogonal slices as images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := exportFormat
		if format == "" {
			format = cfg.Output.Format
		}
		if err := validate.Var(format, "imageformat"); err != nil {
			return fmt.Errorf("unsupported format %q", format)
		}

		store, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer store.Close()

		if u, ok := exportRange.update(cmd); ok && !store.UpdateRange(u) {
			return fmt.Errorf("intensity window rejected for %s", args[0])
		}

		opts := visualization.Options{JPEGQuality: cfg.Output.JPEGQuality}
		var n int
		if strings.EqualFold(exportAxis, "z") {
			n, err = visualization.SaveFrameSequence(store, exportOut, format, opts)
		} else {
			n, err = visualization.NewViewer(store, opts).SaveSliceSequence(exportAxis, exportOut, format)
		}
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"count":  n,
			"output": exportOut,
			"window": store.Info().CurrentRange,
		}).Info("export complete")
		return nil
	},
}

var (
	profileFrame   int
	profileFrom    string
	profileTo      string
	profileSamples int
)

var profileCmd = &cobra.Command{
	Use:   "profile STACK",
	Short: "Sample raw intensities along a line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parsePoint(profileFrom)
		if err != nil {
			return err
		}
		to, err := parsePoint(profileTo)
		if err != nil {
			return err
		}
		n := profileSamples
		if n <= 0 {
			n = cfg.Profile.Samples
		}

		store, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer store.Close()

		index := store.CurrentFrame()
		if cmd.Flags().Changed("frame") {
			index = profileFrame
		}
		raw, err := store.RawSamples(index)
		if err != nil {
			return err
		}
		p, err := profile.Sample(raw, from, to, n)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderProfile(p))
		return nil
	},
}

var (
	synthKind   string
	synthFrames int
	synthWidth  int
	synthHeight int
	synthPeak   float64
)

var synthCmd = &cobra.Command{
	Use:   "synth OUTPUT.tif",
	Short: "Write a synthetic test stack",
	Long:  "Write an uncompressed multi-page TIFF holding a bright ball that grows and shrinks through the stack.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseSampleKind(synthKind)
		if err != nil {
			return err
		}
		if synthFrames < 2 || synthWidth < 1 || synthHeight < 1 {
			return errors.New("a stack needs at least 2 frames of at least 1x1 pixels")
		}

		frames := phantom(kind, synthFrames, synthWidth, synthHeight, synthPeak)
		if err := tiffstack.Create(args[0], frames); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"path":   args[0],
			"kind":   kind,
			"frames": synthFrames,
		}).Info("synthetic stack written")
		return nil
	},
}

// phantom renders a ball of radius 0.4*min(w,h,frames) centered in the
// volume, with intensity falling from peak at the center to 0 at the rim.
func phantom(kind models.SampleKind, frames, width, height int, peak float64) []*models.RawFrame {
	cx, cy, cz := float64(width-1)/2, float64(height-1)/2, float64(frames-1)/2
	r := 0.4 * math.Min(float64(frames), math.Min(float64(width), float64(height)))
	if r < 1 {
		r = 1
	}

	out := make([]*models.RawFrame, frames)
	for z := range out {
		f := &models.RawFrame{Width: width, Height: height, Kind: kind, Samples: make([]float64, width*height)}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				d := math.Sqrt(sq(float64(x)-cx)+sq(float64(y)-cy)+sq(float64(z)-cz)) / r
				if d < 1 {
					v := peak * (1 - d)
					if !kind.IsFloat() {
						v = math.Round(v)
					}
					f.Samples[y*width+x] = v
				}
			}
		}
		out[z] = f
	}
	return out
}

func sq(v float64) float64 { return v * v }

var (
	compareFrame  int
	compareZoom   float64
	compareCenter string
	compareSyncBy string
	compareReset  bool
	compareOut    string
	compareRange  rangeFlags
)

var compareCmd = &cobra.Command{
	Use:   "compare IMAGE...",
	Short: "Open stacks or images as synchronized viewers and drive the first one",
	Long: `compare opens every argument as a viewer (TIFF stacks become volumetric
viewers, PNG and JPEG images static ones) and joins them into one synchronized
group. The --frame, --zoom, --center and range flags are applied to the first
viewer and propagated to the rest; the resulting state of every viewer is
printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by := cfg.Sync.By
		if compareSyncBy != "" {
			by = compareSyncBy
		}
		mode, err := viewsync.ParseSyncBy(by)
		if err != nil {
			return err
		}

		group := viewsync.New(viewsync.WithSyncBy(mode))
		for _, path := range args {
			v, err := openViewer(path)
			if err != nil {
				return err
			}
			defer v.Close()
			v.SetSync(viewer.AxisPan, cfg.Sync.Pan)
			v.SetSync(viewer.AxisZoom, cfg.Sync.Zoom)
			v.SetSync(viewer.AxisFrameIndex, cfg.Sync.Slice)
			v.SetSync(viewer.AxisIntensityRange, cfg.Sync.Range)
			group.Join(v)
		}

		if err := drive(cmd, group.Members()[0]); err != nil {
			return err
		}

		reports := make([]viewerReport, 0, group.Len())
		for _, v := range group.Members() {
			reports = append(reports, newViewerReport(v))
			if compareOut != "" {
				if err := saveRaster(v, compareOut); err != nil {
					return err
				}
			}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), reports)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderViewers(reports))
		return nil
	},
}

// drive applies the requested user actions to the leading viewer
func drive(cmd *cobra.Command, lead *viewer.State) error {
	if compareReset {
		if err := lead.ResetRange(); err != nil {
			return err
		}
	}
	if u, ok := compareRange.update(cmd); ok {
		accepted, err := lead.UpdateRange(u)
		if err != nil {
			return err
		}
		if !accepted {
			logrus.WithField("viewer", lead.Name()).Warn("intensity window rejected")
		}
	}
	if cmd.Flags().Changed("frame") {
		if err := lead.SetFrameIndex(compareFrame); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("zoom") {
		if err := lead.SetZoom(compareZoom); err != nil {
			return err
		}
	}
	if compareCenter != "" {
		p, err := parsePoint(compareCenter)
		if err != nil {
			return err
		}
		lead.SetCenter(viewer.Point{X: p.X, Y: p.Y})
	}
	return nil
}

// openViewer opens TIFF stacks as volumes and other images as static viewers
func openViewer(path string) (*viewer.State, error) {
	head := make([]byte, 261)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := filepath.Base(path)
	if !tiffstack.IsTIFF(head[:n]) && filetype.IsImage(head[:n]) {
		img, err := decodeImage(path)
		if err != nil {
			return nil, err
		}
		return viewer.NewStatic(name, img), nil
	}

	store, err := openStore(path)
	if err != nil {
		return nil, err
	}
	v, err := viewer.NewVolumetric(name, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return v, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

func saveRaster(v *viewer.State, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := strings.TrimSuffix(v.Name(), filepath.Ext(v.Name()))
	file := filepath.Join(dir, fmt.Sprintf("%s_%03d.%s", name, v.FrameIndex(), cfg.Output.Format))
	return visualization.SaveFrame(v.Raster(), file, visualization.Options{JPEGQuality: cfg.Output.JPEGQuality})
}

var watchCmd = &cobra.Command{
	Use:   "watch STACK...",
	Short: "Re-detect intensity ranges when stacks change on disk",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := watch.New()
		if err != nil {
			return err
		}
		defer w.Close()

		stores := make(map[string]*framestore.FrameStore)
		for _, path := range args {
			store, err := openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			if err := w.Add(abs, store); err != nil {
				return err
			}
			stores[abs] = store
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		logrus.WithField("stacks", len(stores)).Info("watching for changes, press Ctrl+C to stop")

		for {
			path, err := w.Next(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, watch.ErrClosed) {
				return nil
			}
			if err != nil {
				logrus.WithError(err).WithField("path", path).Warn("rescan failed")
				continue
			}

			store := stores[path]
			report := infoReport{Info: store.Info(), Kind: store.Stack().Kind.String()}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderInfo(report))
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		logrus.WithField("path", path).Info("configuration written")
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVar(&infoFrame, "frame", 0, "Frame to compute statistics for (default: the middle frame)")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "frames", "Output directory")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "Image format: png, jpg or tif (default from config)")
	exportCmd.Flags().StringVar(&exportAxis, "axis", "z", "Export frames (z) or orthogonal slices (x, y)")
	exportRange.register(exportCmd)

	profileCmd.Flags().IntVar(&profileFrame, "frame", 0, "Frame to sample (default: the middle frame)")
	profileCmd.Flags().StringVar(&profileFrom, "from", "0,0", "Start point x,y")
	profileCmd.Flags().StringVar(&profileTo, "to", "", "End point x,y")
	profileCmd.Flags().IntVar(&profileSamples, "samples", 0, "Number of samples (default from config)")
	profileCmd.MarkFlagRequired("to")

	synthCmd.Flags().StringVar(&synthKind, "kind", "uint16", "Sample kind: uint8, uint16, int32 or float32")
	synthCmd.Flags().IntVar(&synthFrames, "frames", 16, "Number of frames")
	synthCmd.Flags().IntVar(&synthWidth, "width", 64, "Frame width")
	synthCmd.Flags().IntVar(&synthHeight, "height", 64, "Frame height")
	synthCmd.Flags().Float64Var(&synthPeak, "peak", 4000, "Intensity at the center of the ball")

	compareCmd.Flags().IntVar(&compareFrame, "frame", 0, "Frame to show on the first viewer")
	compareCmd.Flags().Float64Var(&compareZoom, "zoom", 1, "Zoom factor for the first viewer")
	compareCmd.Flags().StringVar(&compareCenter, "center", "", "View center x,y for the first viewer")
	compareCmd.Flags().StringVar(&compareSyncBy, "sync-by", "", "Pan/zoom scaling: box, width, height or pixel (default from config)")
	compareCmd.Flags().BoolVar(&compareReset, "reset", false, "Reset the first viewer's window to its detected range before other changes")
	compareCmd.Flags().StringVarP(&compareOut, "out", "o", "", "Directory to save every viewer's displayed raster")
	compareRange.register(compareCmd)
}
