package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"stacksync/internal/models"
	"stacksync/pkg/profile"
	"stacksync/pkg/viewer"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	forcedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type infoReport struct {
	models.Info
	Kind  string             `json:"kind"`
	Frame *models.FrameStats `json:"frame,omitempty"`
}

type viewerReport struct {
	Name       string        `json:"name"`
	ID         string        `json:"id"`
	Volumetric bool          `json:"volumetric"`
	Frame      int           `json:"frame"`
	FrameCount int           `json:"frameCount"`
	Zoom       float64       `json:"zoom"`
	Center     [2]float64    `json:"center"`
	Range      *models.Range `json:"range,omitempty"`
	Forced     bool          `json:"forced"`
	Sync       []string      `json:"sync"`
}

func newViewerReport(v *viewer.State) viewerReport {
	t := v.Transform()
	r := viewerReport{
		Name:       v.Name(),
		ID:         v.ID().String(),
		Frame:      v.FrameIndex(),
		FrameCount: v.FrameCount(),
		Zoom:       t.Zoom,
		Center:     [2]float64{t.Center.X, t.Center.Y},
		Sync:       []string{},
	}
	if store := v.Store(); store != nil {
		info := store.Info()
		r.Volumetric = true
		r.Range = &info.CurrentRange
		r.Forced = info.Forced
	}
	for _, a := range viewer.Axes {
		if v.SyncEnabled(a) {
			r.Sync = append(r.Sync, a.String())
		}
	}
	return r
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderInfo(r infoReport) string {
	current := r.CurrentRange.String()
	if r.Forced {
		current = forcedStyle.Render(current + " (forced)")
	}

	t := newTable("Property", "Value").
		Row("Frames", strconv.Itoa(r.FrameCount)).
		Row("Size", fmt.Sprintf("%d x %d", r.Width, r.Height)).
		Row("Samples", fmt.Sprintf("%s (%d-bit)", r.Kind, r.BitDepth)).
		Row("Detected range", r.DetectedRange.String()).
		Row("Current range", current).
		Row("Current frame", strconv.Itoa(r.CurrentFrameIndex))
	if r.Frame != nil {
		t.Row(fmt.Sprintf("Frame %d min/max", r.Frame.Index), fmt.Sprintf("%g / %g", r.Frame.Min, r.Frame.Max))
		t.Row(fmt.Sprintf("Frame %d mean/sd", r.Frame.Index), fmt.Sprintf("%.4g / %.4g", r.Frame.Mean, r.Frame.StdDev))
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(r.Filepath), t.String())
}

func renderProfile(p *profile.Profile) string {
	t := newTable("#", "Distance", "Value")
	for i := range p.Values {
		t.Row(strconv.Itoa(i), fmt.Sprintf("%.3f", p.Positions[i]), fmt.Sprintf("%g", p.Values[i]))
	}
	title := fmt.Sprintf("Profile (%g,%g) -> (%g,%g)", p.From.X, p.From.Y, p.To.X, p.To.Y)
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.String())
}

func renderViewers(reports []viewerReport) string {
	t := newTable("Viewer", "Frame", "Zoom", "Center", "Window", "Sync")
	for _, r := range reports {
		window := "-"
		if r.Range != nil {
			window = r.Range.String()
			if r.Forced {
				window = forcedStyle.Render(window)
			}
		}
		t.Row(
			r.Name,
			fmt.Sprintf("%d/%d", r.Frame+1, r.FrameCount),
			fmt.Sprintf("%.3g", r.Zoom),
			fmt.Sprintf("%.1f, %.1f", r.Center[0], r.Center[1]),
			window,
			fmt.Sprint(r.Sync),
		)
	}
	return t.String()
}
