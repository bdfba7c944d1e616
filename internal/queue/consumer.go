/**
 * Queue Consumer for the voter-roll worker
 *
 * Consumes voter-roll jobs from the Redis-backed asynq queue, runs the
 * processor and records the job outcome.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/voterroll-worker/internal/errors"
	"github.com/adverant/nexus/voterroll-worker/internal/processor"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
)

// TaskTypeProcessRoll is the asynq task type of a voter-roll job
const TaskTypeProcessRoll = "voterroll:process"

// JobData is the task payload
type JobData struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
	FilePath string `json:"filePath"` // uploaded PDF on storage shared with the API
}

// StatusPublisher is told about job status changes
type StatusPublisher interface {
	PublishStatus(ctx context.Context, jobID, status string, fields map[string]interface{})
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	publisher StatusPublisher
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.DocumentProcessorInterface
	Publisher   StatusPublisher // optional
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payload=%s, error=%v",
					task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		publisher: cfg.Publisher,
		config:    cfg,
	}

	mux.HandleFunc(TaskTypeProcessRoll, consumer.handleProcessRoll)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully, waiting for running jobs
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return nil
}

// handleProcessRoll processes one voter-roll job
func (c *Consumer) handleProcessRoll(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData JobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if jobData.JobID == "" || jobData.FilePath == "" {
		return fmt.Errorf("job data is missing jobId or filePath: %w", asynq.SkipRetry)
	}

	log.Printf("[Job %s] Processing voter roll: filename=%s", jobData.JobID, jobData.Filename)

	c.setStatus(ctx, &storage.JobUpdate{JobID: jobData.JobID, Status: storage.StatusProcessing}, nil)

	result, err := c.processor.ProcessDocument(ctx, &processor.ProcessRequest{
		JobID:    jobData.JobID,
		Filename: jobData.Filename,
		FilePath: jobData.FilePath,
		Persist:  true,
	})

	duration := time.Since(startTime)

	if err != nil {
		retry := retryable(err) && !lastAttempt(ctx)
		log.Printf("[Job %s] Processing failed after %v (retry=%v): %v", jobData.JobID, duration, retry, err)

		update := &storage.JobUpdate{
			JobID:            jobData.JobID,
			Status:           storage.StatusFailed,
			ProcessingTimeMs: duration.Milliseconds(),
			ErrorCode:        string(errors.CodeOf(err)),
			ErrorMessage:     err.Error(),
		}
		if retry {
			update.Status = storage.StatusQueued
		}
		c.setStatus(ctx, update, map[string]interface{}{"error": err.Error()})

		if !retry {
			c.removeFile(jobData)
			return fmt.Errorf("voter roll processing failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("voter roll processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed in %v: pages=%d failedPages=%d records=%d failedCells=%d",
		jobData.JobID, duration, result.TotalPages, result.FailedPages, len(result.Records), result.FailedCells)

	c.setStatus(ctx, &storage.JobUpdate{
		JobID:            jobData.JobID,
		Status:           storage.StatusCompleted,
		TotalPages:       result.TotalPages,
		PagesDone:        len(result.Pages),
		RecordCount:      len(result.Records),
		FailedPages:      result.FailedPages,
		FailedCells:      result.FailedCells,
		ProcessingTimeMs: duration.Milliseconds(),
		Metadata: map[string]interface{}{
			"pages": result.Pages,
		},
	}, map[string]interface{}{
		"records":     len(result.Records),
		"failedPages": result.FailedPages,
	})

	c.removeFile(jobData)
	return nil
}

func (c *Consumer) setStatus(ctx context.Context, update *storage.JobUpdate, fields map[string]interface{}) {
	if err := c.processor.UpdateJobStatus(ctx, update); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to %s: %v", update.JobID, update.Status, err)
	}
	if c.publisher != nil {
		c.publisher.PublishStatus(ctx, update.JobID, update.Status, fields)
	}
}

func (c *Consumer) removeFile(jobData JobData) {
	if err := os.Remove(jobData.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("[Job %s] Warning: Failed to remove %s: %v", jobData.JobID, jobData.FilePath, err)
	}
}

// retryable reports whether a failed job may succeed on a later attempt.
// Document problems (unreadable PDF, timeout, missing pdftoppm) will not.
func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorStorageFailed, "":
		return true
	}
	return false
}

func lastAttempt(ctx context.Context) bool {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return n >= max
}
