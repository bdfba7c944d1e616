/**
 * Tesseract OCR - Offline cell recognition
 *
 * Free, local OCR using Tesseract. Used where Cloud Vision is unavailable.
 * Requires the hin and eng traineddata files for bilingual voter rolls.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
)

// Config holds Tesseract configuration
type Config struct {
	// Languages are ISO-639-1 hints ("hi", "en") or Tesseract codes ("hin").
	Languages []string
}

// Engine handles OCR using Tesseract. A gosseract client is not safe for
// concurrent use, so every call gets its own.
type Engine struct {
	languages []string
}

// New creates a new Tesseract engine
func New(cfg *Config) *Engine {
	langs := toTesseractLanguages(cfg.Languages)
	if len(langs) == 0 {
		langs = []string{"hin", "eng"}
	}
	return &Engine{languages: langs}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on one cell image
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetImageFromBytes(in.Image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, &ocr.ServiceError{Engine: e.Name(), Message: err.Error()}
	}

	return &ocr.Result{
		Text:       text,
		Confidence: estimateConfidence(text),
		Engine:     e.Name(),
		Duration:   time.Since(startTime),
	}, nil
}

var languageCodes = map[string]string{
	"hi": "hin",
	"en": "eng",
	"mr": "mar",
	"bn": "ben",
	"gu": "guj",
	"ta": "tam",
	"te": "tel",
}

func toTesseractLanguages(hints []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if code, ok := languageCodes[h]; ok {
			h = code
		}
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// estimateConfidence scores text quality with a few cheap indicators.
// Tesseract's own mean confidence needs HOCR parsing, which cells don't warrant.
func estimateConfidence(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	confidence := 0.5

	if len(strings.Fields(text)) >= 6 {
		confidence += 0.1
	}

	// Ratio of letters and digits, any script, to all non-space runes
	var total, good int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) {
			good++
		}
	}
	if total > 0 && float64(good)/float64(total) > 0.7 {
		confidence += 0.2
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	return confidence
}
