/**
 * OCR Types - Shared contract for cell text recognition
 *
 * Every engine (Google Vision, Tesseract, remote OCR service) implements
 * Engine and is constructed once at start-up, then shared by all workers.
 */

package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine recognizes the text of one cropped cell image.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (*Result, error)
}

// Input is one lossless-encoded (PNG) cell image.
type Input struct {
	ID        string // "<job>/p<page>/c<cell>", used in logs and service metadata
	Image     []byte
	Languages []string
}

// Result is the recognized text of one cell. Text may be empty.
type Result struct {
	Text       string
	Confidence float64
	Engine     string
	Duration   time.Duration
}

// ServiceError is an error reported by the OCR service itself, as opposed to
// a transport failure.
type ServiceError struct {
	Engine    string
	Message   string
	Transient bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Engine, e.Message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
