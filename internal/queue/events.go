/**
 * Job Event Publisher for the voter-roll worker
 *
 * Publishes page progress and job status events on a Redis channel for
 * streaming to clients, and keeps status sets for queue statistics.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/voterroll-worker/internal/processor"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
)

// Event is one message on the events channel
type Event struct {
	Event      string                 `json:"event"` // "job:<status>" or "job:page"
	JobID      string                 `json:"jobId"`
	TotalPages int                    `json:"totalPages,omitempty"`
	Page       *processor.PageReport  `json:"page,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Publisher writes job events to Redis
type Publisher struct {
	client    *redis.Client
	queueName string
}

// NewPublisher connects to Redis
func NewPublisher(redisURL, queueName string) (*Publisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Publisher{client: client, queueName: queueName}, nil
}

// Channel is the pub/sub channel events are published on
func (p *Publisher) Channel() string {
	return fmt.Sprintf("%s:events", p.queueName)
}

func (p *Publisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", p.queueName, suffix)
}

// ReportPage publishes the report of a finished page
func (p *Publisher) ReportPage(ctx context.Context, jobID string, totalPages int, report processor.PageReport) {
	p.publish(ctx, pageEvent(jobID, totalPages, report, time.Now()))
}

// PublishStatus moves the job between status sets and publishes the change
func (p *Publisher) PublishStatus(ctx context.Context, jobID, status string, fields map[string]interface{}) {
	pipe := p.client.TxPipeline()
	switch status {
	case storage.StatusProcessing:
		pipe.SAdd(ctx, p.key("processing"), jobID)
	case storage.StatusCompleted, storage.StatusFailed:
		pipe.SRem(ctx, p.key("processing"), jobID)
		pipe.SAdd(ctx, p.key(status), jobID)
	case storage.StatusQueued:
		pipe.SRem(ctx, p.key("processing"), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status sets: %v", jobID, err)
	}

	p.publish(ctx, statusEvent(jobID, status, fields, time.Now()))
}

func (p *Publisher) publish(ctx context.Context, ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Job %s] Warning: Failed to marshal event: %v", ev.JobID, err)
		return
	}
	if err := p.client.Publish(ctx, p.Channel(), data).Err(); err != nil {
		log.Printf("[Job %s] Warning: Failed to publish %s: %v", ev.JobID, ev.Event, err)
	}
}

// GetStats returns job counts per status
func (p *Publisher) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, s := range []string{storage.StatusProcessing, storage.StatusCompleted, storage.StatusFailed} {
		n, err := p.client.SCard(ctx, p.key(s)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s count: %w", s, err)
		}
		stats[s] = n
	}
	return stats, nil
}

// Close closes the Redis connection
func (p *Publisher) Close() error {
	return p.client.Close()
}

func pageEvent(jobID string, totalPages int, report processor.PageReport, now time.Time) *Event {
	return &Event{
		Event:      "job:page",
		JobID:      jobID,
		TotalPages: totalPages,
		Page:       &report,
		Timestamp:  now.Format(time.RFC3339),
	}
}

func statusEvent(jobID, status string, fields map[string]interface{}, now time.Time) *Event {
	return &Event{
		Event:     "job:" + status,
		JobID:     jobID,
		Fields:    fields,
		Timestamp: now.Format(time.RFC3339),
	}
}
