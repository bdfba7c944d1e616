// Package grid locates the ruled cells of a voter-roll page raster with
// OpenCV: a fixed-threshold binary mask, directional morphological opening to
// keep only long ruling lines, and contour bounding boxes over the resulting
// grid mask.
//
// The fixed threshold assumes consistent scan exposure. Pages scanned under
// different lighting can lose their ruling lines entirely; this shows up as a
// near-empty grid mask (see cells.Detection.GridPixels) rather than being
// corrected here.
package grid

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/voterroll-worker/internal/cells"
)

// Params are the image-processing calibration constants.
type Params struct {
	// Threshold is the luminance cutoff: pixels darker than it become
	// foreground (255).
	Threshold float32
	// KernelLength is the long side of the line structuring elements.
	KernelLength int
	// Iterations is the number of erode/dilate passes of each opening.
	Iterations int
}

// DefaultParams returns the values calibrated on the source forms.
func DefaultParams() Params {
	return Params{
		Threshold:    200,
		KernelLength: 40,
		Iterations:   2,
	}
}

// Binarize converts a colour (BGR) or grayscale page into an inverted binary
// mask where ink and ruling lines are 255 and paper is 0. The caller owns the
// returned Mat.
func Binarize(page gocv.Mat, threshold float32) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()

	if page.Channels() == 1 {
		page.CopyTo(&gray)
	} else {
		gocv.CvtColor(page, &gray, gocv.ColorBGRToGray)
	}

	mask := gocv.NewMat()
	gocv.Threshold(gray, &mask, threshold, 255, gocv.ThresholdBinaryInv)
	return mask
}

// DetectLines isolates the table's ruling lines. Each direction is opened
// with a one-pixel-thin kernel, which removes any shape shorter than the
// kernel along that direction (text glyphs, photographs), and the two line
// masks are merged with saturating addition. The caller owns the returned
// Mat.
func DetectLines(mask gocv.Mat, p Params) gocv.Mat {
	horizontal := openWith(mask, image.Pt(p.KernelLength, 1), p.Iterations)
	defer horizontal.Close()

	vertical := openWith(mask, image.Pt(1, p.KernelLength), p.Iterations)
	defer vertical.Close()

	grid := gocv.NewMat()
	gocv.Add(horizontal, vertical, &grid)
	return grid
}

func openWith(mask gocv.Mat, size image.Point, iterations int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, size)
	defer kernel.Close()

	out := gocv.NewMat()
	gocv.MorphologyExWithParams(mask, &out, gocv.MorphOpen, kernel, iterations, gocv.BorderConstant)
	return out
}

// FindBoxes returns the bounding box of every contour in the grid mask,
// inner and outer, in contour order.
func FindBoxes(grid gocv.Mat) []cells.Box {
	contours := gocv.FindContours(grid, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]cells.Box, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, cells.FromRect(gocv.BoundingRect(contours.At(i))))
	}
	return boxes
}

// Detect runs the full segmentation of one page raster.
func Detect(page gocv.Mat, gp Params, cp cells.Params) cells.Detection {
	mask := Binarize(page, gp.Threshold)
	defer mask.Close()

	lines := DetectLines(mask, gp)
	defer lines.Close()

	candidates := FindBoxes(lines)
	return cells.Detection{
		Boxes:      cells.Select(candidates, cp),
		Candidates: len(candidates),
		GridPixels: gocv.CountNonZero(lines),
	}
}
