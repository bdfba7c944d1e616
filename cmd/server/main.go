/**
 * Voter Roll Upload Server - Main Entry Point
 *
 * Serves the upload form, extracts uploaded voter rolls synchronously and,
 * when Redis and PostgreSQL are configured, accepts asynchronous jobs for the
 * worker.
 */

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/voterroll-worker/internal/bootstrap"
	"github.com/adverant/nexus/voterroll-worker/internal/config"
	"github.com/adverant/nexus/voterroll-worker/internal/queue"
	"github.com/adverant/nexus/voterroll-worker/internal/server"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Printf("Voter Roll Upload Server starting...")

	ctx := context.Background()

	pipeline, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer pipeline.Close()

	var (
		jobs       server.JobStore
		jobQueue   server.JobQueue
		queueStats server.QueueStats
	)
	if cfg.AsyncEnabled() && pipeline.Store != nil {
		producer, err := queue.NewProducer(&queue.ProducerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.QueueName,
			MaxRetry:  3,
			// Leave the worker room to report its own document timeout.
			Timeout: time.Duration(cfg.ProcessingTimeout)*time.Millisecond + time.Minute,
		})
		if err != nil {
			log.Fatalf("Failed to initialize queue producer: %v", err)
		}
		defer producer.Close()

		jobs = pipeline.Store
		jobQueue = producer
		log.Printf("Async jobs enabled on queue %s", cfg.QueueName)

		// Queue statistics for /healthz (non-fatal)
		if publisher, err := queue.NewPublisher(cfg.RedisURL, cfg.QueueName); err != nil {
			log.Printf("Warning: queue statistics unavailable: %v", err)
		} else {
			defer publisher.Close()
			queueStats = publisher
		}
	} else {
		log.Printf("Async jobs disabled (REDIS_URL and DATABASE_URL not both set)")
	}

	srv := server.New(&server.Config{
		MaxFileSize: cfg.MaxFileSize,
		TempDir:     cfg.TempDir,
		UploadDir:   cfg.TempDir,
	}, pipeline.Processor, jobs, jobQueue)
	if queueStats != nil {
		srv.SetQueueStats(queueStats)
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Printf("Listening on :%s (max upload %d bytes)", cfg.Port, cfg.MaxFileSize)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	log.Printf("Shutdown complete")
}
