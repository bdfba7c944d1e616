/**
 * Voter Roll Worker - Main Entry Point
 *
 * Consumes queued voter-roll jobs, extracts the voter records of every page
 * and stores them in PostgreSQL for download through the upload server.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Page-by-page rasterization (pdftoppm), grid detection (OpenCV)
 * - Bounded per-cell OCR fan-out (Cloud Vision, Tesseract or OCR service)
 * - Page progress and status events on Redis pub/sub
 * - PostgreSQL persistence of job state and records
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/voterroll-worker/internal/bootstrap"
	"github.com/adverant/nexus/voterroll-worker/internal/config"
	"github.com/adverant/nexus/voterroll-worker/internal/queue"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.AsyncEnabled() {
		log.Fatalf("REDIS_URL and DATABASE_URL are required to run the worker")
	}

	log.Printf("Voter Roll Worker starting...")
	log.Printf("Configuration loaded: Queue=%s, Workers=%d, OCR=%s, OCRWorkers=%d",
		cfg.QueueName, cfg.WorkerConcurrency, cfg.OCREngine, cfg.OCRWorkers)

	ctx := context.Background()

	// Initialize event publisher
	log.Printf("Connecting to Redis for job events...")
	publisher, err := queue.NewPublisher(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer publisher.Close()
	log.Printf("Job events published on %s", publisher.Channel())

	// Initialize processing pipeline (rasterizer, segmenter, OCR, store)
	log.Printf("Initializing processing pipeline...")
	pipeline, err := bootstrap.Build(ctx, cfg, publisher)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer pipeline.Close()

	// Initialize queue consumer
	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		Processor:   pipeline.Processor,
		Publisher:   publisher,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := queueConsumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Voter Roll Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Render DPI: %d", cfg.RenderDPI)
	log.Printf("Error policy: cells=%s, pages=%s", cfg.CellErrorPolicy, cfg.PageErrorPolicy)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := queueConsumer.Stop(ctx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	log.Printf("Shutdown complete")
}
