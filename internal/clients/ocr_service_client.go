/**
 * OCR Service Client - HTTP client for an internal OCR gateway
 *
 * Deployments that front their OCR backends with a shared service send cell
 * images here instead of calling a vendor directly. The service receives a
 * base64 encoded image and answers with the recognized text.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/voterroll-worker/internal/logging"
)

// OCRServiceClient handles communication with the OCR service
type OCRServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// TextExtractionRequest represents a request to extract text from an image
type TextExtractionRequest struct {
	Image    string                 `json:"image"`  // Base64 encoded image
	Format   string                 `json:"format"` // always "base64"
	Language string                 `json:"language,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TextExtractionResponse represents the response of the extract-text endpoint
type TextExtractionResponse struct {
	Success bool               `json:"success"`
	Data    TextExtractionData `json:"data"`
	Message string             `json:"message"`
}

// TextExtractionData contains the extracted text and metadata
type TextExtractionData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("OCR service returned error status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a temporary condition.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewOCRServiceClient creates a new OCR service client. The per-request
// deadline comes from the caller's context; timeout is a hard upper bound.
func NewOCRServiceClient(baseURL string, timeout time.Duration) *OCRServiceClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OCRServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("OCRServiceClient"),
	}
}

// ExtractText extracts text from an image
func (c *OCRServiceClient) ExtractText(ctx context.Context, req *TextExtractionRequest) (*TextExtractionResponse, error) {
	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "voterroll-worker")
	httpReq.Header.Set("X-Request-ID", "ocr-"+uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to OCR service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var ocrResp TextExtractionResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"processingTime", ocrResp.Data.ProcessingTime,
		"textLength", len(ocrResp.Data.Text))

	return &ocrResp, nil
}

// ExtractTextFromBytes is a convenience method that handles base64 encoding
func (c *OCRServiceClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, language string, metadata map[string]interface{}) (*TextExtractionResponse, error) {
	return c.ExtractText(ctx, &TextExtractionRequest{
		Image:    base64.StdEncoding.EncodeToString(imageData),
		Format:   "base64",
		Language: language,
		Metadata: metadata,
	})
}

// HealthCheck verifies the OCR service is available
func (c *OCRServiceClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
