package cells

// Detection summarises the segmentation of one page.
type Detection struct {
	// Boxes are the selected cells, sorted by (y, x).
	Boxes []Box
	// Candidates counts the contour boxes found before filtering.
	Candidates int
	// GridPixels counts the foreground pixels of the grid mask. A value near
	// zero means no ruling lines were found at all.
	GridPixels int
}

// Page is one segmented page raster. Implementations own native image memory
// and must be closed once the page has been processed.
type Page interface {
	Number() int
	Detection() Detection
	// Crop returns the box region of the original raster as a PNG.
	Crop(b Box) ([]byte, error)
	Close() error
}

// Segmenter decodes an encoded page raster and locates its cells.
type Segmenter interface {
	Segment(pageNumber int, encoded []byte) (Page, error)
}
