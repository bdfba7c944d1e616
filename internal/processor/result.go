package processor

import (
	"github.com/adverant/nexus/voterroll-worker/internal/export"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

// PageStatus classifies the outcome of one page.
type PageStatus string

const (
	// PageOK produced at least one record.
	PageOK PageStatus = "ok"
	// PageEmpty had cells, but none yielded a non-empty record.
	PageEmpty PageStatus = "empty"
	// PageNoGrid had (almost) no ruling lines: a blank page, a different
	// form, or a scan the fixed threshold could not binarize.
	PageNoGrid PageStatus = "no_grid"
	// PageNoCells had ruling lines but no cell-sized boxes.
	PageNoCells PageStatus = "no_cells"
	// PageFailed could not be rendered or segmented, or every cell failed.
	// Both abort the document under PAGE_ERROR_POLICY=abort.
	PageFailed PageStatus = "failed"
)

// PageReport is the diagnostic summary of one page.
type PageReport struct {
	Page        int        `json:"page"`
	Status      PageStatus `json:"status"`
	GridPixels  int        `json:"gridPixels"`
	Candidates  int        `json:"candidates"`
	Cells       int        `json:"cells"`
	Records     int        `json:"records"`
	FailedCells int        `json:"failedCells"`
	DurationMs  int64      `json:"durationMs"`
	Error       string     `json:"error,omitempty"`
}

// ProcessResult represents the processing result. Records are in page
// order, then in cell reading order.
type ProcessResult struct {
	JobID            string
	Records          []voter.Record
	Pages            []PageReport
	TotalPages       int
	FailedPages      int
	FailedCells      int
	ProcessingTimeMs int64

	entries []storage.StoredRecord
}

func (r *ProcessResult) add(report PageReport, entries []storage.StoredRecord) {
	r.Pages = append(r.Pages, report)
	if report.Status == PageFailed {
		r.FailedPages++
	}
	r.FailedCells += report.FailedCells
	for _, e := range entries {
		r.Records = append(r.Records, e.Record)
	}
	r.entries = append(r.entries, entries...)
}

// AllPagesFailed reports whether no page could be processed at all.
func (r *ProcessResult) AllPagesFailed() bool {
	return r.TotalPages > 0 && r.FailedPages == r.TotalPages
}

// PageRows converts the page reports for the workbook's diagnostics sheet.
func (r *ProcessResult) PageRows() []export.PageRow {
	rows := make([]export.PageRow, len(r.Pages))
	for i, p := range r.Pages {
		rows[i] = export.PageRow{
			Page:        p.Page,
			Status:      string(p.Status),
			GridPixels:  p.GridPixels,
			Candidates:  p.Candidates,
			Cells:       p.Cells,
			Records:     p.Records,
			FailedCells: p.FailedCells,
			Error:       p.Error,
		}
	}
	return rows
}
