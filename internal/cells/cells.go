// Package cells holds the geometry of detected table cells: the bounding box
// type, the size filter and the greedy near-duplicate suppression that turns
// raw contour boxes into one box per physical cell.
package cells

import (
	"image"
	"sort"
)

// Box is an axis-aligned cell region in page pixel coordinates.
type Box struct {
	X      int
	Y      int
	Width  int
	Height int
}

// FromRect converts an image.Rectangle into a Box.
func FromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Params are the calibration constants of the cell selection step. They are
// tuned to voter-roll scans rendered at 190-300 DPI; documents rendered at
// other resolutions need them rescaled.
type Params struct {
	// MinWidth and MinHeight are exclusive lower bounds: a box survives only
	// when Width > MinWidth and Height > MinHeight.
	MinWidth  int
	MinHeight int

	// DedupRadius is the per-axis distance under which two boxes are taken
	// to be the same physical cell.
	DedupRadius int
}

// DefaultParams returns the values calibrated on the source forms.
func DefaultParams() Params {
	return Params{
		MinWidth:    200,
		MinHeight:   200,
		DedupRadius: 15,
	}
}

// Filter drops boxes that are too small to be a voter cell (line fragments,
// noise, partial detections).
func Filter(boxes []Box, p Params) []Box {
	kept := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Width > p.MinWidth && b.Height > p.MinHeight {
			kept = append(kept, b)
		}
	}
	return kept
}

// SortByPosition sorts boxes top-to-bottom, then left-to-right.
func SortByPosition(boxes []Box) {
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Y != boxes[j].Y {
			return boxes[i].Y < boxes[j].Y
		}
		return boxes[i].X < boxes[j].X
	})
}

// Dedup sorts boxes by (y, x) and admits a box only when no previously
// admitted box lies within radius pixels on both axes.
//
// This is greedy suppression, not clustering: a chain of boxes each within
// the radius of its neighbour but spanning further overall can still leave
// near-duplicates behind.
func Dedup(boxes []Box, radius int) []Box {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	SortByPosition(sorted)

	unique := make([]Box, 0, len(sorted))
	for _, b := range sorted {
		if !nearAny(b, unique, radius) {
			unique = append(unique, b)
		}
	}
	return unique
}

// Select applies the size filter then dedup.
func Select(boxes []Box, p Params) []Box {
	return Dedup(Filter(boxes, p), p.DedupRadius)
}

func nearAny(b Box, accepted []Box, radius int) bool {
	for _, u := range accepted {
		if abs(b.X-u.X) < radius && abs(b.Y-u.Y) < radius {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
