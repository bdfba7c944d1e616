/**
 * HTTP Server for voter-roll uploads
 *
 * Synchronous upload-and-download of the extracted workbook, plus the
 * asynchronous job API when the queue and job store are configured.
 */

package server

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	verrors "github.com/adverant/nexus/voterroll-worker/internal/errors"
	"github.com/adverant/nexus/voterroll-worker/internal/export"
	"github.com/adverant/nexus/voterroll-worker/internal/logging"
	"github.com/adverant/nexus/voterroll-worker/internal/processor"
	"github.com/adverant/nexus/voterroll-worker/internal/queue"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

//go:embed templates/index.html
var indexHTML []byte

// uploadField is the multipart field carrying the PDF
const uploadField = "pdf_file"

// JobQueue submits asynchronous jobs
type JobQueue interface {
	Enqueue(ctx context.Context, data *queue.JobData) error
}

// JobStore reads and creates asynchronous jobs
type JobStore interface {
	CreateJob(ctx context.Context, jobID, filename string) error
	GetJobByID(ctx context.Context, jobID string) (*storage.Job, error)
	GetRecords(ctx context.Context, jobID string) ([]voter.Record, error)
	Ping(ctx context.Context) error
	GetStats() sql.DBStats
}

// QueueStats reports job counts per status
type QueueStats interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

// Config holds server configuration
type Config struct {
	MaxFileSize int64
	TempDir     string
	// UploadDir holds PDFs of queued jobs; it must be shared with the workers.
	UploadDir string
}

// Server serves the upload form and the extraction API
type Server struct {
	config    *Config
	processor processor.DocumentProcessorInterface
	jobs      JobStore
	queue     JobQueue
	stats     QueueStats
	router    *gin.Engine
	logger    *logging.Logger

	workbook func(records []voter.Record, pages []export.PageRow) ([]byte, error)
}

// New builds the router. The job routes are only registered when both jobs
// and q are non-nil.
func New(cfg *Config, proc processor.DocumentProcessorInterface, jobs JobStore, q JobQueue) *Server {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = cfg.TempDir
	}

	s := &Server{
		config:    cfg,
		processor: proc,
		jobs:      jobs,
		queue:     q,
		router:    gin.New(),
		logger:    logging.NewLogger("Server"),
		workbook:  export.Bytes,
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.router.GET("/", s.handleIndex)
	s.router.GET("/healthz", s.handleHealth)
	s.router.POST("/upload", s.handleUpload)

	if jobs != nil && q != nil {
		s.router.POST("/jobs", s.handleCreateJob)
		s.router.GET("/jobs/:id", s.handleGetJob)
		s.router.GET("/jobs/:id/output.xlsx", s.handleJobWorkbook)
	}

	return s
}

// SetQueueStats adds per-status job counts to the health report
func (s *Server) SetQueueStats(stats QueueStats) {
	s.stats = stats
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.jobs != nil {
		if err := s.jobs.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		db := s.jobs.GetStats()
		body["database"] = gin.H{
			"openConnections": db.OpenConnections,
			"inUse":           db.InUse,
			"idle":            db.Idle,
		}
	}

	if s.stats != nil {
		counts, err := s.stats.GetStats(ctx)
		if err != nil {
			s.logger.Warn("failed to read queue stats", "error", err)
		} else {
			body["jobs"] = counts
		}
	}

	c.JSON(http.StatusOK, body)
}

// handleUpload extracts the uploaded PDF and returns the workbook
func (s *Server) handleUpload(c *gin.Context) {
	jobID := uuid.NewString()
	logger := s.logger.With("job", jobID)

	path, filename, ok := s.receiveUpload(c, s.config.TempDir, "upload-*.pdf")
	if !ok {
		return
	}
	defer os.Remove(path)

	result, err := s.processor.ProcessDocument(c.Request.Context(), &processor.ProcessRequest{
		JobID:    jobID,
		Filename: filename,
		FilePath: path,
	})
	if err != nil {
		logger.Error("extraction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if result.AllPagesFailed() {
		logger.Warn("every page failed", "pages", result.TotalPages)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "no page of the document could be processed",
			"pages": result.Pages,
		})
		return
	}

	var pages []export.PageRow
	if c.Query("diagnostics") != "" {
		pages = result.PageRows()
	}
	data, err := s.workbook(result.Records, pages)
	if err != nil {
		exportErr := verrors.NewExportFailedError(jobID, err)
		logger.Error("export failed", "error", exportErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": exportErr.Error(), "code": exportErr.Code})
		return
	}

	logger.Info("extraction complete", "records", len(result.Records),
		"failedPages", result.FailedPages, "failedCells", result.FailedCells)
	c.Header("X-Job-ID", jobID)
	c.Header("X-Pages-Failed", strconv.Itoa(result.FailedPages))
	c.Header("X-Cells-Failed", strconv.Itoa(result.FailedCells))
	sendWorkbook(c, data)
}

// handleCreateJob stores the upload and queues it
func (s *Server) handleCreateJob(c *gin.Context) {
	jobID := uuid.NewString()
	logger := s.logger.With("job", jobID)

	path, filename, ok := s.receiveUpload(c, s.config.UploadDir, jobID+"-*.pdf")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.jobs.CreateJob(ctx, jobID, filename); err != nil {
		os.Remove(path)
		logger.Error("failed to create job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.queue.Enqueue(ctx, &queue.JobData{JobID: jobID, Filename: filename, FilePath: path}); err != nil {
		os.Remove(path)
		logger.Error("failed to enqueue job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Info("job queued", "filename", filename)
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "status": storage.StatusQueued})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleJobWorkbook(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	if job.Status != storage.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job is %s", job.Status), "status": job.Status})
		return
	}

	records, err := s.jobs.GetRecords(c.Request.Context(), job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := s.workbook(records, nil)
	if err != nil {
		exportErr := verrors.NewExportFailedError(job.ID, err)
		s.logger.Error("export failed", "job", job.ID, "error", exportErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": exportErr.Error(), "code": exportErr.Code})
		return
	}
	sendWorkbook(c, data)
}

func (s *Server) lookupJob(c *gin.Context) (*storage.Job, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}

	job, err := s.jobs.GetJobByID(c.Request.Context(), id)
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return job, true
}

// receiveUpload saves the pdf_file field under dir. On failure it writes the
// error response and returns ok=false.
func (s *Server) receiveUpload(c *gin.Context, dir, pattern string) (path, filename string, ok bool) {
	// Leave room for the multipart framing around the file.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxFileSize+1<<20)

	file, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return "", "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return "", "", false
	}
	if file.Size > s.config.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return "", "", false
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", "", false
	}
	path = f.Name()
	f.Close()

	if err := c.SaveUploadedFile(file, path); err != nil {
		os.Remove(path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", "", false
	}

	return path, filepath.Base(file.Filename), true
}

func sendWorkbook(c *gin.Context, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename))
	c.Data(http.StatusOK, export.ContentType, data)
}
