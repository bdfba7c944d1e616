/**
 * Document Processor for the voter-roll worker
 *
 * Orchestrates one document, page by page:
 * - Rasterize the page (pdftoppm) and segment it into table cells (OpenCV)
 * - Crop every cell and OCR the crops over a bounded worker pool
 * - Parse each cell's text into a voter record, dropping empty records
 * - Collect a diagnostic report per page
 *
 * Only one page raster is alive at a time; it is released before the next
 * page is rendered.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/voterroll-worker/internal/cells"
	"github.com/adverant/nexus/voterroll-worker/internal/config"
	"github.com/adverant/nexus/voterroll-worker/internal/errors"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
	"github.com/adverant/nexus/voterroll-worker/internal/pdf"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// Rasterizer turns PDF pages into encoded page images.
type Rasterizer interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPage(ctx context.Context, path string, n int) ([]byte, error)
}

// ProgressReporter is told about every finished page.
type ProgressReporter interface {
	ReportPage(ctx context.Context, jobID string, totalPages int, report PageReport)
}

// JobStore persists job state and records.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreRecords(ctx context.Context, jobID string, records []storage.StoredRecord) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Rasterizer Rasterizer
	Segmenter  cells.Segmenter
	Engine     ocr.Engine
	Store      JobStore         // optional
	Progress   ProgressReporter // optional

	Languages         []string
	OCRWorkers        int
	CellErrorPolicy   string
	PageErrorPolicy   string
	MinGridPixels     int
	ProcessingTimeout time.Duration
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID    string
	Filename string
	FilePath string
	// Persist stores records and page progress through the JobStore.
	Persist bool
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config *ProcessorConfig
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if cfg.Segmenter == nil {
		return nil, fmt.Errorf("segmenter is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}
	if cfg.OCRWorkers < 1 {
		cfg.OCRWorkers = 1
	}
	if cfg.CellErrorPolicy == "" {
		cfg.CellErrorPolicy = config.PolicySkip
	}
	if cfg.PageErrorPolicy == "" {
		cfg.PageErrorPolicy = config.PolicySkip
	}

	return &DocumentProcessor{config: cfg}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	log.Printf("[Job %s] Starting document processing pipeline: %s", req.JobID, req.Filename)

	if p.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessingTimeout)
		defer cancel()
	}

	totalPages, err := p.config.Rasterizer.PageCount(ctx, req.FilePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.contextError(ctx, req.JobID, err)
		}
		return nil, errors.NewDocumentUnreadableError(req.JobID, err)
	}
	if totalPages == 0 {
		return nil, errors.NewNoPagesError(req.JobID)
	}
	log.Printf("[Job %s] Document has %d pages", req.JobID, totalPages)

	result := &ProcessResult{
		JobID:      req.JobID,
		TotalPages: totalPages,
		Pages:      make([]PageReport, 0, totalPages),
	}

	for n := 1; n <= totalPages; n++ {
		if ctx.Err() != nil {
			return nil, p.contextError(ctx, req.JobID, ctx.Err())
		}

		pageStart := time.Now()
		report, entries, err := p.processPage(ctx, req, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.contextError(ctx, req.JobID, err)
			}
			if errors.ScopeOf(err) != errors.ScopePage {
				return nil, err
			}
			if p.config.PageErrorPolicy == config.PolicyAbort {
				return nil, escalate(err)
			}
			log.Printf("[Job %s] Page %d failed, skipping: %v", req.JobID, n, err)
			report = PageReport{Page: n, Status: PageFailed, Error: err.Error()}
		} else if report.Status == PageFailed && p.config.PageErrorPolicy == config.PolicyAbort {
			return nil, escalate(errors.NewCellsFailedError(req.JobID, n, report.Cells))
		}
		report.DurationMs = time.Since(pageStart).Milliseconds()

		result.add(report, entries)
		log.Printf("[Job %s] Page %d/%d: status=%s cells=%d records=%d failedCells=%d",
			req.JobID, n, totalPages, report.Status, report.Cells, report.Records, report.FailedCells)

		p.reportProgress(ctx, req, result, report)
	}

	// Finalizing
	if req.Persist && p.config.Store != nil {
		if err := p.config.Store.StoreRecords(ctx, req.JobID, result.entries); err != nil {
			if ctx.Err() != nil {
				return nil, p.contextError(ctx, req.JobID, err)
			}
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Job %s] Processing complete in %dms: pages=%d failedPages=%d records=%d failedCells=%d",
		req.JobID, result.ProcessingTimeMs, result.TotalPages, result.FailedPages, len(result.Records), result.FailedCells)

	return result, nil
}

// processPage runs one page from raster to records. Every per-page artifact
// is released before it returns.
func (p *DocumentProcessor) processPage(ctx context.Context, req *ProcessRequest, n int) (PageReport, []storage.StoredRecord, error) {
	report := PageReport{Page: n}

	raster, err := p.config.Rasterizer.RenderPage(ctx, req.FilePath, n)
	if err != nil {
		if stderrors.Is(err, pdf.ErrRasterizerMissing) {
			return report, nil, errors.NewRasterizerMissingError(req.JobID, "pdftoppm", err)
		}
		return report, nil, errors.NewRasterizeFailedError(req.JobID, n, err)
	}

	page, err := p.config.Segmenter.Segment(n, raster)
	if err != nil {
		return report, nil, errors.NewSegmentFailedError(req.JobID, n, err)
	}
	defer page.Close()

	det := page.Detection()
	report.GridPixels = det.GridPixels
	report.Candidates = det.Candidates
	report.Cells = len(det.Boxes)

	if len(det.Boxes) == 0 {
		if det.GridPixels < p.config.MinGridPixels {
			report.Status = PageNoGrid
		} else {
			report.Status = PageNoCells
		}
		return report, nil, nil
	}

	// Crops come from the shared raster, so they are taken before fan-out.
	crops := make([][]byte, len(det.Boxes))
	outcomes := make([]cellOutcome, len(det.Boxes))
	for i, box := range det.Boxes {
		crop, err := page.Crop(box)
		if err != nil {
			cellErr := errors.NewCropFailedError(req.JobID, n, i, err)
			if p.config.CellErrorPolicy == config.PolicyAbort {
				return report, nil, cellErr.Escalate()
			}
			outcomes[i].err = cellErr
			continue
		}
		crops[i] = crop
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.OCRWorkers)

	for i := range crops {
		if crops[i] == nil {
			continue
		}
		i := i
		g.Go(func() error {
			res, err := p.config.Engine.Recognize(gctx, ocr.Input{
				ID:        fmt.Sprintf("%s/p%d/c%d", req.JobID, n, i),
				Image:     crops[i],
				Languages: p.config.Languages,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				cellErr := errors.NewOCRFailedError(req.JobID, n, i, p.config.Engine.Name(), err)
				if p.config.CellErrorPolicy == config.PolicyAbort {
					return cellErr.Escalate()
				}
				outcomes[i].err = cellErr
				return nil
			}
			outcomes[i].record = voter.Extract(res.Text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, nil, err
	}

	var entries []storage.StoredRecord
	for i, o := range outcomes {
		if o.err != nil {
			report.FailedCells++
			log.Printf("[Job %s] Cell %d on page %d skipped: %v", req.JobID, i, n, o.err)
			continue
		}
		if o.record.Empty() {
			continue
		}
		entries = append(entries, storage.StoredRecord{Page: n, Cell: i, Record: o.record})
	}
	report.Records = len(entries)

	switch {
	case report.FailedCells == report.Cells:
		report.Status = PageFailed
		report.Error = "every cell failed"
	case report.Records == 0:
		report.Status = PageEmpty
	default:
		report.Status = PageOK
	}

	return report, entries, nil
}

type cellOutcome struct {
	record voter.Record
	err    error
}

func (p *DocumentProcessor) reportProgress(ctx context.Context, req *ProcessRequest, result *ProcessResult, report PageReport) {
	if p.config.Progress != nil {
		p.config.Progress.ReportPage(ctx, req.JobID, result.TotalPages, report)
	}

	if !req.Persist || p.config.Store == nil {
		return
	}
	if err := p.config.Store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:       req.JobID,
		Status:      storage.StatusProcessing,
		TotalPages:  result.TotalPages,
		PagesDone:   len(result.Pages),
		RecordCount: len(result.Records),
		FailedPages: result.FailedPages,
		FailedCells: result.FailedCells,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update page progress: %v", req.JobID, err)
	}
}

// contextError maps a cancelled or expired document context to a document
// error.
func (p *DocumentProcessor) contextError(ctx context.Context, jobID string, cause error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewProcessingTimeoutError(jobID, p.config.ProcessingTimeout, cause)
	}
	return fmt.Errorf("[Job %s] processing cancelled: %w", jobID, ctx.Err())
}

// UpdateJobStatus updates job status in the job store, if one is configured
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	if p.config.Store == nil {
		return nil
	}
	return p.config.Store.UpdateJobStatus(ctx, update)
}

func escalate(err error) error {
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Escalate()
	}
	return err
}
