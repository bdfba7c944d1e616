// Package remote adapts the HTTP OCR service client to ocr.Engine.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/adverant/nexus/voterroll-worker/internal/clients"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
)

const engineName = "remote"

type Engine struct {
	client    *clients.OCRServiceClient
	languages []string
}

func New(client *clients.OCRServiceClient, languages []string) *Engine {
	return &Engine{client: client, languages: languages}
}

func (e *Engine) Name() string { return engineName }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	start := time.Now()

	langs := in.Languages
	if len(langs) == 0 {
		langs = e.languages
	}

	resp, err := e.client.ExtractTextFromBytes(ctx, in.Image, strings.Join(langs, ","), map[string]interface{}{
		"cell": in.ID,
	})
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) {
			return nil, &ocr.ServiceError{Engine: engineName, Message: se.Error(), Transient: se.Retryable()}
		}
		return nil, err
	}
	if !resp.Success {
		return nil, &ocr.ServiceError{Engine: engineName, Message: resp.Message}
	}

	return &ocr.Result{
		Text:       resp.Data.Text,
		Confidence: resp.Data.Confidence,
		Engine:     engineName,
		Duration:   time.Since(start),
	}, nil
}
