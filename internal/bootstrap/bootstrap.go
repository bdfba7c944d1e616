/**
 * Pipeline assembly shared by the upload server and the queue worker
 *
 * Builds the rasterizer, segmenter, OCR engine and optional job store from
 * configuration and hands back a ready DocumentProcessor.
 */

package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adverant/nexus/voterroll-worker/internal/cells"
	"github.com/adverant/nexus/voterroll-worker/internal/clients"
	"github.com/adverant/nexus/voterroll-worker/internal/config"
	"github.com/adverant/nexus/voterroll-worker/internal/grid"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr/gvision"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr/remote"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/voterroll-worker/internal/pdf"
	"github.com/adverant/nexus/voterroll-worker/internal/processor"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
)

// Pipeline is an assembled document processor and the resources behind it
type Pipeline struct {
	Processor *processor.DocumentProcessor
	// Store is nil when DATABASE_URL is not configured.
	Store *storage.PostgresClient

	closers []func() error
}

// Build assembles the pipeline. progress may be nil.
func Build(ctx context.Context, cfg *config.Config, progress processor.ProgressReporter) (*Pipeline, error) {
	p := &Pipeline{}

	rasterizer := pdf.NewRasterizer(cfg.RenderDPI, cfg.PdftoppmPath, cfg.TempDir)
	if err := rasterizer.CheckAvailable(); err != nil {
		// Uploads still fail per document with a clear error.
		log.Printf("Warning: %v", err)
	}

	engine, closeEngine, err := NewEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeEngine != nil {
		p.closers = append(p.closers, closeEngine)
	}

	procCfg := &processor.ProcessorConfig{
		Rasterizer:        rasterizer,
		Segmenter:         grid.NewSegmenter(GridParams(cfg), CellParams(cfg)),
		Engine:            ocr.NewGuard(engine, GuardConfig(cfg)),
		Languages:         cfg.Languages(),
		OCRWorkers:        cfg.OCRWorkers,
		CellErrorPolicy:   cfg.CellErrorPolicy,
		PageErrorPolicy:   cfg.PageErrorPolicy,
		MinGridPixels:     cfg.MinGridPixels,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
	}
	if progress != nil {
		procCfg.Progress = progress
	}

	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.closers = append(p.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
		p.Store = store
		procCfg.Store = store
	}

	proc, err := processor.NewDocumentProcessor(procCfg)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create document processor: %w", err)
	}
	p.Processor = proc

	log.Printf("Pipeline ready: engine=%s, dpi=%d, ocrWorkers=%d, cellPolicy=%s, pagePolicy=%s, store=%v",
		engine.Name(), cfg.RenderDPI, cfg.OCRWorkers, cfg.CellErrorPolicy, cfg.PageErrorPolicy, p.Store != nil)

	return p, nil
}

// Close releases the engine and store, last opened first
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Printf("Warning: close failed: %v", err)
		}
	}
	p.closers = nil
}

// NewEngine builds the configured OCR engine. The returned close function is
// nil for engines holding no connection.
func NewEngine(ctx context.Context, cfg *config.Config) (ocr.Engine, func() error, error) {
	switch cfg.OCREngine {
	case config.EngineGoogle:
		engine, err := gvision.New(ctx, &gvision.Config{
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			Languages:       cfg.Languages(),
		})
		if err != nil {
			return nil, nil, err
		}
		return engine, engine.Close, nil

	case config.EngineTesseract:
		return tesseract.New(&tesseract.Config{Languages: cfg.Languages()}), nil, nil

	case config.EngineRemote:
		client := clients.NewOCRServiceClient(cfg.OCRServiceURL, time.Duration(cfg.OCRTimeout)*time.Millisecond)

		// Test OCR service connection (non-fatal, the service may start later)
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(hctx); err != nil {
			log.Printf("WARNING: OCR service health check failed: %v", err)
		} else {
			log.Printf("OCR service connection verified: %s", cfg.OCRServiceURL)
		}
		return remote.New(client, cfg.Languages()), nil, nil
	}

	return nil, nil, fmt.Errorf("unknown OCR engine %q", cfg.OCREngine)
}

// GridParams maps the calibration settings onto the line detector
func GridParams(cfg *config.Config) grid.Params {
	return grid.Params{
		Threshold:    float32(cfg.BinaryThreshold),
		KernelLength: cfg.LineKernelLength,
		Iterations:   cfg.MorphIterations,
	}
}

// CellParams maps the calibration settings onto cell selection
func CellParams(cfg *config.Config) cells.Params {
	return cells.Params{
		MinWidth:    cfg.MinCellWidth,
		MinHeight:   cfg.MinCellHeight,
		DedupRadius: cfg.DedupRadius,
	}
}

// GuardConfig bounds each OCR call by OCR_TIMEOUT_MS and OCR_MAX_RETRIES
func GuardConfig(cfg *config.Config) ocr.GuardConfig {
	return ocr.GuardConfig{
		Timeout:    time.Duration(cfg.OCRTimeout) * time.Millisecond,
		MaxRetries: cfg.OCRMaxRetries,
	}
}
