/**
 * Configuration for the voter-roll worker and upload server
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Error policies for page and cell failures
const (
	PolicySkip  = "skip"
	PolicyAbort = "abort"
)

// OCR engines
const (
	EngineGoogle    = "google"
	EngineTesseract = "tesseract"
	EngineRemote    = "remote"
)

// Config holds worker and server configuration
type Config struct {
	// HTTP server
	Port string

	// Redis configuration (async jobs, progress events)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration (job tracking, stored records)
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds, whole document

	// Temporary directory for uploads and rendered pages
	TempDir string

	// Rasterization
	RenderDPI    int
	PdftoppmPath string

	// OCR configuration
	OCREngine             string
	GoogleCredentialsJSON string
	OCRLanguages          string
	OCRServiceURL         string
	OCRWorkers            int
	OCRTimeout            int // milliseconds, per cell
	OCRMaxRetries         int
	CellErrorPolicy       string
	PageErrorPolicy       string

	// Calibration constants. These encode the scan resolution of the source
	// voter rolls (190-300 DPI) and must be rescaled for other renderings.
	BinaryThreshold  int
	LineKernelLength int
	MorphIterations  int
	MinCellWidth     int
	MinCellHeight    int
	DedupRadius      int
	MinGridPixels    int

	// Node environment
	Env string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "5000"),
		RedisURL:              getEnvOrDefault("REDIS_URL", ""),
		QueueName:             getEnvOrDefault("QUEUE_NAME", "voterroll:jobs"),
		DatabaseURL:           getEnvOrDefault("DATABASE_URL", ""),
		WorkerConcurrency:     getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:           getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout:     getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 1800000), // 30 minutes
		TempDir:               getEnvOrDefault("TEMP_DIR", os.TempDir()),
		RenderDPI:             getEnvAsIntOrDefault("RENDER_DPI", 190),
		PdftoppmPath:          getEnvOrDefault("PDFTOPPM_PATH", "pdftoppm"),
		OCREngine:             strings.ToLower(getEnvOrDefault("OCR_ENGINE", EngineGoogle)),
		GoogleCredentialsJSON: getEnvOrDefault("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),
		OCRLanguages:          getEnvOrDefault("OCR_LANGUAGES", "hi,en"),
		OCRServiceURL:         getEnvOrDefault("OCR_SERVICE_URL", ""),
		OCRWorkers:            getEnvAsIntOrDefault("OCR_WORKERS", 8),
		OCRTimeout:            getEnvAsIntOrDefault("OCR_TIMEOUT_MS", 30000),
		OCRMaxRetries:         getEnvAsIntOrDefault("OCR_MAX_RETRIES", 3),
		CellErrorPolicy:       strings.ToLower(getEnvOrDefault("CELL_ERROR_POLICY", PolicySkip)),
		PageErrorPolicy:       strings.ToLower(getEnvOrDefault("PAGE_ERROR_POLICY", PolicySkip)),
		BinaryThreshold:       getEnvAsIntOrDefault("BINARY_THRESHOLD", 200),
		LineKernelLength:      getEnvAsIntOrDefault("LINE_KERNEL_LENGTH", 40),
		MorphIterations:       getEnvAsIntOrDefault("MORPH_ITERATIONS", 2),
		MinCellWidth:          getEnvAsIntOrDefault("MIN_CELL_WIDTH", 200),
		MinCellHeight:         getEnvAsIntOrDefault("MIN_CELL_HEIGHT", 200),
		DedupRadius:           getEnvAsIntOrDefault("DEDUP_RADIUS", 15),
		MinGridPixels:         getEnvAsIntOrDefault("MIN_GRID_PIXELS", 500),
		Env:                   getEnvOrDefault("APP_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	switch c.OCREngine {
	case EngineGoogle:
		if c.GoogleCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS_JSON is required when OCR_ENGINE=google")
		}
	case EngineRemote:
		if c.OCRServiceURL == "" {
			return fmt.Errorf("OCR_SERVICE_URL is required when OCR_ENGINE=remote")
		}
	case EngineTesseract:
	default:
		return fmt.Errorf("OCR_ENGINE must be one of google, tesseract, remote, got %q", c.OCREngine)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.OCRWorkers < 1 || c.OCRWorkers > 64 {
		return fmt.Errorf("OCR_WORKERS must be between 1 and 64, got %d", c.OCRWorkers)
	}

	if c.OCRTimeout < 1000 {
		return fmt.Errorf("OCR_TIMEOUT_MS must be at least 1000, got %d", c.OCRTimeout)
	}

	if c.OCRMaxRetries < 0 || c.OCRMaxRetries > 10 {
		return fmt.Errorf("OCR_MAX_RETRIES must be between 0 and 10, got %d", c.OCRMaxRetries)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.RenderDPI < 72 || c.RenderDPI > 600 {
		return fmt.Errorf("RENDER_DPI must be between 72 and 600, got %d", c.RenderDPI)
	}

	if !validPolicy(c.CellErrorPolicy) {
		return fmt.Errorf("CELL_ERROR_POLICY must be skip or abort, got %q", c.CellErrorPolicy)
	}

	if !validPolicy(c.PageErrorPolicy) {
		return fmt.Errorf("PAGE_ERROR_POLICY must be skip or abort, got %q", c.PageErrorPolicy)
	}

	if c.BinaryThreshold < 1 || c.BinaryThreshold > 254 {
		return fmt.Errorf("BINARY_THRESHOLD must be between 1 and 254, got %d", c.BinaryThreshold)
	}

	if c.LineKernelLength < 2 {
		return fmt.Errorf("LINE_KERNEL_LENGTH must be at least 2, got %d", c.LineKernelLength)
	}

	if c.MorphIterations < 1 {
		return fmt.Errorf("MORPH_ITERATIONS must be at least 1, got %d", c.MorphIterations)
	}

	if c.MinCellWidth < 0 || c.MinCellHeight < 0 || c.DedupRadius < 0 || c.MinGridPixels < 0 {
		return fmt.Errorf("cell size, dedup radius and grid pixel limits must not be negative")
	}

	return nil
}

// AsyncEnabled reports whether the Redis queue and PostgreSQL job store are
// both configured.
func (c *Config) AsyncEnabled() bool {
	return c.RedisURL != "" && c.DatabaseURL != ""
}

// Languages splits OCRLanguages into individual language hints.
func (c *Config) Languages() []string {
	var langs []string
	for _, l := range strings.Split(c.OCRLanguages, ",") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

func validPolicy(p string) bool {
	return p == PolicySkip || p == PolicyAbort
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
