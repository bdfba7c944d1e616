/**
 * Google Cloud Vision OCR - Document text detection for cell images
 *
 * Dense-text detection handles the mixed Devanagari/Latin cell content of
 * voter rolls far better than plain TEXT_DETECTION.
 */

package gvision

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
)

const engineName = "google-vision"

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Config holds Vision client configuration
type Config struct {
	// CredentialsJSON is the service-account key itself, not a path.
	CredentialsJSON string
	Languages       []string
}

// Engine is a Cloud Vision backed ocr.Engine. One client is shared by all
// workers; the underlying gRPC connection is safe for concurrent use.
type Engine struct {
	annotate  annotateFunc
	close     func() error
	languages []string
}

// New dials Cloud Vision with in-memory credentials.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg.CredentialsJSON == "" {
		return nil, fmt.Errorf("google vision credentials are required")
	}

	client, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}

	return &Engine{
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return client.BatchAnnotateImages(ctx, req)
		},
		close:     client.Close,
		languages: cfg.Languages,
	}, nil
}

func (e *Engine) Name() string { return engineName }

// Recognize runs DOCUMENT_TEXT_DETECTION on one cell image. An error message
// in the annotation response is returned as *ocr.ServiceError.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	startTime := time.Now()

	langs := in.Languages
	if len(langs) == 0 {
		langs = e.languages
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: in.Image},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			ImageContext: &visionpb.ImageContext{
				LanguageHints: langs,
			},
		}},
	}

	resp, err := e.annotate(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, &ocr.ServiceError{Engine: engineName, Message: "empty annotation response"}
	}

	annotation := resp.GetResponses()[0]
	if msg := annotation.GetError().GetMessage(); msg != "" {
		return nil, &ocr.ServiceError{
			Engine:    engineName,
			Message:   msg,
			Transient: transientCode(codes.Code(annotation.GetError().GetCode())),
		}
	}

	full := annotation.GetFullTextAnnotation()
	return &ocr.Result{
		Text:       full.GetText(),
		Confidence: meanPageConfidence(full),
		Engine:     engineName,
		Duration:   time.Since(startTime),
	}, nil
}

// Close releases the gRPC connection.
func (e *Engine) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("vision request failed: %w", err)
	}
	return &ocr.ServiceError{
		Engine:    engineName,
		Message:   st.Message(),
		Transient: transientCode(st.Code()),
	}
}

func transientCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

func meanPageConfidence(full *visionpb.TextAnnotation) float64 {
	pages := full.GetPages()
	if len(pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pages {
		sum += float64(p.GetConfidence())
	}
	return sum / float64(len(pages))
}
