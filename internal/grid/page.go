package grid

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/voterroll-worker/internal/cells"
)

// Segmenter decodes rendered pages and detects their cells.
type Segmenter struct {
	Grid  Params
	Cells cells.Params
}

// NewSegmenter creates a segmenter with the given calibration.
func NewSegmenter(gp Params, cp cells.Params) *Segmenter {
	return &Segmenter{Grid: gp, Cells: cp}
}

// Segment decodes an encoded page image (PNG, JPEG, ...) and runs detection.
func (s *Segmenter) Segment(pageNumber int, encoded []byte) (cells.Page, error) {
	img, err := gocv.IMDecode(encoded, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page %d: %w", pageNumber, err)
	}
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("page %d decoded to an empty image", pageNumber)
	}
	return NewPage(pageNumber, img, s.Grid, s.Cells), nil
}

// Page is a decoded page raster and its detected cells. It owns the Mat.
type Page struct {
	number    int
	img       gocv.Mat
	detection cells.Detection
}

// NewPage takes ownership of img and segments it.
func NewPage(number int, img gocv.Mat, gp Params, cp cells.Params) *Page {
	return &Page{
		number:    number,
		img:       img,
		detection: Detect(img, gp, cp),
	}
}

func (p *Page) Number() int { return p.number }

func (p *Page) Detection() cells.Detection { return p.detection }

// Crop encodes the box region of the original colour raster as PNG.
func (p *Page) Crop(b cells.Box) ([]byte, error) {
	rect := b.Rect().Intersect(image.Rect(0, 0, p.img.Cols(), p.img.Rows()))
	if rect.Empty() {
		return nil, fmt.Errorf("box %+v lies outside page %d", b, p.number)
	}

	region := p.img.Region(rect)
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, region)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cell: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the page raster.
func (p *Page) Close() error {
	return p.img.Close()
}
