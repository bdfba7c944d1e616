package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the voter-roll worker
 *
 * Every failure carries a Scope that decides how far it propagates:
 * - document: the whole job is aborted (unreadable PDF, timeout, storage)
 * - page: one page is skipped, the rest of the document continues
 * - cell: one cell is skipped, the rest of the page continues
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Document errors
	ErrorProcessingTimeout  ErrorCode = "PROCESSING_TIMEOUT"
	ErrorDocumentUnreadable ErrorCode = "DOCUMENT_UNREADABLE"
	ErrorRasterizerMissing  ErrorCode = "RASTERIZER_MISSING"
	ErrorNoPages            ErrorCode = "NO_PAGES"
	ErrorExportFailed       ErrorCode = "EXPORT_FAILED"

	// Page errors
	ErrorRasterizeFailed ErrorCode = "RASTERIZE_FAILED"
	ErrorSegmentFailed   ErrorCode = "SEGMENT_FAILED"
	ErrorCellsFailed     ErrorCode = "CELLS_FAILED"

	// Cell errors
	ErrorOCRFailed  ErrorCode = "OCR_FAILED"
	ErrorCropFailed ErrorCode = "CROP_FAILED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Scope is the blast radius of an error.
type Scope string

const (
	ScopeDocument Scope = "document"
	ScopePage     Scope = "page"
	ScopeCell     Scope = "cell"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Scope     Scope
	Message   string
	JobID     string
	Page      int // 1-based; 0 when not page specific
	Cell      int // 0-based box index; -1 when not cell specific
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, scope Scope, jobID string, page, cell int, msg string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Scope:     scope,
		Message:   msg,
		JobID:     jobID,
		Page:      page,
		Cell:      cell,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{},
		Cause:     cause,
	}
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	e := newError(ErrorProcessingTimeout, ScopeDocument, jobID, 0, -1,
		fmt.Sprintf("Processing timed out after %v", duration), cause)
	e.Details["timeout_duration"] = duration.String()
	return e
}

func NewDocumentUnreadableError(jobID string, cause error) *ProcessingError {
	return newError(ErrorDocumentUnreadable, ScopeDocument, jobID, 0, -1,
		"PDF could not be read", cause)
}

func NewRasterizerMissingError(jobID string, binary string, cause error) *ProcessingError {
	e := newError(ErrorRasterizerMissing, ScopeDocument, jobID, 0, -1,
		fmt.Sprintf("Rasterizer %q is not available", binary), cause)
	e.Details["binary"] = binary
	return e
}

func NewNoPagesError(jobID string) *ProcessingError {
	return newError(ErrorNoPages, ScopeDocument, jobID, 0, -1, "PDF has no pages", nil)
}

func NewExportFailedError(jobID string, cause error) *ProcessingError {
	return newError(ErrorExportFailed, ScopeDocument, jobID, 0, -1, "Failed to build spreadsheet", cause)
}

func NewRasterizeFailedError(jobID string, page int, cause error) *ProcessingError {
	return newError(ErrorRasterizeFailed, ScopePage, jobID, page, -1,
		fmt.Sprintf("Failed to rasterize page %d", page), cause)
}

func NewSegmentFailedError(jobID string, page int, cause error) *ProcessingError {
	return newError(ErrorSegmentFailed, ScopePage, jobID, page, -1,
		fmt.Sprintf("Failed to segment page %d", page), cause)
}

func NewCellsFailedError(jobID string, page, cells int) *ProcessingError {
	e := newError(ErrorCellsFailed, ScopePage, jobID, page, -1,
		fmt.Sprintf("Every cell on page %d failed", page), nil)
	e.Details["cells"] = cells
	return e
}

func NewOCRFailedError(jobID string, page, cell int, engine string, cause error) *ProcessingError {
	e := newError(ErrorOCRFailed, ScopeCell, jobID, page, cell,
		fmt.Sprintf("OCR failed on page %d cell %d", page, cell), cause)
	e.Details["ocr_engine"] = engine
	return e
}

func NewCropFailedError(jobID string, page, cell int, cause error) *ProcessingError {
	return newError(ErrorCropFailed, ScopeCell, jobID, page, cell,
		fmt.Sprintf("Failed to crop page %d cell %d", page, cell), cause)
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return newError(ErrorStorageFailed, ScopeDocument, jobID, 0, -1,
		"Failed to store processing results", cause)
}

// Escalate returns a copy of e widened to the document scope, used when a
// page or cell failure is configured to abort the whole job.
func (e *ProcessingError) Escalate() *ProcessingError {
	c := *e
	c.Scope = ScopeDocument
	c.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details["escalated_from"] = string(e.Scope)
	return &c
}

// ScopeOf returns the scope of the first ProcessingError in err's chain.
// Unclassified errors are treated as document errors.
func ScopeOf(err error) Scope {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Scope
	}
	return ScopeDocument
}

// CodeOf returns the code of the first ProcessingError in err's chain, or ""
// when err is unclassified.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"scope":      string(e.Scope),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Page > 0 {
		result["page"] = e.Page
	}
	if e.Cell >= 0 {
		result["cell"] = e.Cell
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
