package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	// Timeout bounds one task attempt; it should exceed the processor's own
	// document timeout so the processor reports the timeout itself.
	Timeout time.Duration
}

// Producer enqueues voter-roll jobs
type Producer struct {
	client *asynq.Client
	config *ProducerConfig
}

// NewProducer creates a new queue producer
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Producer{
		client: asynq.NewClient(redisOpt),
		config: cfg,
	}, nil
}

// NewProcessTask builds the task for one job
func NewProcessTask(data *JobData) (*asynq.Task, error) {
	if data.JobID == "" || data.FilePath == "" {
		return nil, fmt.Errorf("jobId and filePath are required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	return asynq.NewTask(TaskTypeProcessRoll, payload), nil
}

// Enqueue submits a job. The job id doubles as the task id, so a job can
// only be queued once.
func (p *Producer) Enqueue(ctx context.Context, data *JobData) error {
	task, err := NewProcessTask(data)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(p.config.QueueName),
		asynq.TaskID(data.JobID),
		asynq.MaxRetry(p.config.MaxRetry),
	}
	if p.config.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.config.Timeout))
	}

	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", data.JobID, err)
	}
	return nil
}

// Close closes the Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}
