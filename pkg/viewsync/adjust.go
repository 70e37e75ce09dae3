package viewsync

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// SyncBy selects how pan and zoom are scaled between viewers whose images
// differ in size.
type SyncBy int

const (
	// ByBox fits the sender's image into the receiver's, keeping aspect
	ByBox SyncBy = iota
	// ByWidth matches image widths
	ByWidth
	// ByHeight matches image heights
	ByHeight
	// ByPixel maps image pixels one to one
	ByPixel
)

func (m SyncBy) String() string {
	switch m {
	case ByBox:
		return "box"
	case ByWidth:
		return "width"
	case ByHeight:
		return "height"
	case ByPixel:
		return "pixel"
	default:
		return fmt.Sprintf("syncby(%d)", int(m))
	}
}

// ParseSyncBy accepts the names returned by String
func ParseSyncBy(s string) (SyncBy, error) {
	switch strings.ToLower(s) {
	case "box", "":
		return ByBox, nil
	case "width":
		return ByWidth, nil
	case "height":
		return ByHeight, nil
	case "pixel":
		return ByPixel, nil
	}
	return ByBox, fmt.Errorf("unknown sync mode %q", s)
}

// AdjustmentFactor is the ratio between sender and receiver image sizes used
// to carry a view across: the receiver's zoom is the sender's zoom times the
// factor and its center is the sender's center divided by it. Degenerate
// sizes give 1.
func AdjustmentFactor(mode SyncBy, sender, receiver image.Point) float64 {
	if sender.X <= 0 || sender.Y <= 0 || receiver.X <= 0 || receiver.Y <= 0 {
		return 1
	}
	w := float64(sender.X) / float64(receiver.X)
	h := float64(sender.Y) / float64(receiver.Y)
	switch mode {
	case ByWidth:
		return w
	case ByHeight:
		return h
	case ByPixel:
		return 1
	default:
		return math.Min(w, h)
	}
}
