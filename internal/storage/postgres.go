/**
 * PostgreSQL Client for the voter-roll worker
 *
 * Handles job persistence and stored voter records for asynchronous jobs.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

// Job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned when no job row has the requested id.
var ErrJobNotFound = errors.New("job not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update. Zero counters and empty strings
// leave the stored value unchanged.
type JobUpdate struct {
	JobID            string
	Status           string
	Filename         string
	TotalPages       int
	PagesDone        int
	RecordCount      int
	FailedPages      int
	FailedCells      int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// Job is a stored processing job
type Job struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename"`
	Status           string                 `json:"status"`
	TotalPages       int                    `json:"totalPages"`
	PagesDone        int                    `json:"pagesDone"`
	RecordCount      int                    `json:"recordCount"`
	FailedPages      int                    `json:"failedPages"`
	FailedCells      int                    `json:"failedCells"`
	ProcessingTimeMs int64                  `json:"processingTimeMs,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// StoredRecord is a voter record with its position in the document
type StoredRecord struct {
	Page   int
	Cell   int
	Record voter.Record
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS voterroll;

	CREATE TABLE IF NOT EXISTS voterroll.jobs (
		id                 UUID PRIMARY KEY,
		filename           TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		total_pages        INTEGER NOT NULL DEFAULT 0,
		pages_done         INTEGER NOT NULL DEFAULT 0,
		record_count       INTEGER NOT NULL DEFAULT 0,
		failed_pages       INTEGER NOT NULL DEFAULT 0,
		failed_cells       INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS voterroll.voter_records (
		job_id        UUID NOT NULL REFERENCES voterroll.jobs(id) ON DELETE CASCADE,
		page          INTEGER NOT NULL,
		cell          INTEGER NOT NULL,
		voter_id      TEXT NOT NULL,
		voter_name    TEXT NOT NULL,
		relative_name TEXT NOT NULL,
		house_number  TEXT NOT NULL,
		age           TEXT NOT NULL,
		gender        TEXT NOT NULL,
		PRIMARY KEY (job_id, page, cell)
	);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the schema and tables if they do not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new queued job
func (p *PostgresClient) CreateJob(ctx context.Context, jobID, filename string) error {
	return p.UpdateJobStatus(ctx, &JobUpdate{
		JobID:    jobID,
		Status:   StatusQueued,
		Filename: filename,
	})
}

// UpdateJobStatus updates job status in the database, creating the row on
// first use.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if update.Metadata == nil {
		metadataJSON = nil
	}

	query := `
		INSERT INTO voterroll.jobs (
			id, filename, status, total_pages, pages_done, record_count,
			failed_pages, failed_cells, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0),
			NULLIF($10, ''), NULLIF($11, ''),
			COALESCE($12::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filename = COALESCE(NULLIF(EXCLUDED.filename, ''), voterroll.jobs.filename),
			total_pages = GREATEST(EXCLUDED.total_pages, voterroll.jobs.total_pages),
			pages_done = GREATEST(EXCLUDED.pages_done, voterroll.jobs.pages_done),
			record_count = GREATEST(EXCLUDED.record_count, voterroll.jobs.record_count),
			failed_pages = GREATEST(EXCLUDED.failed_pages, voterroll.jobs.failed_pages),
			failed_cells = GREATEST(EXCLUDED.failed_cells, voterroll.jobs.failed_cells),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, voterroll.jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = CASE WHEN $12::jsonb IS NULL THEN voterroll.jobs.metadata ELSE EXCLUDED.metadata END,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,                       // $1
		sanitizeText(update.Filename),      // $2
		update.Status,                      // $3
		update.TotalPages,                  // $4
		update.PagesDone,                   // $5
		update.RecordCount,                 // $6
		update.FailedPages,                 // $7
		update.FailedCells,                 // $8
		update.ProcessingTimeMs,            // $9
		update.ErrorCode,                   // $10
		sanitizeText(update.ErrorMessage),  // $11
		nullableJSON(metadataJSON),         // $12
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreRecords replaces the stored records of a job in one transaction,
// bulk-loading them with COPY.
func (p *PostgresClient) StoreRecords(ctx context.Context, jobID string, records []StoredRecord) (err error) {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM voterroll.voter_records WHERE job_id = $1::uuid`, jobID); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("voterroll", "voter_records",
		"job_id", "page", "cell",
		"voter_id", "voter_name", "relative_name", "house_number", "age", "gender"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx, jobID, r.Page, r.Cell,
			sanitizeText(r.Record.VoterID),
			sanitizeText(r.Record.VoterName),
			sanitizeText(r.Record.RelativeName),
			sanitizeText(r.Record.HouseNumber),
			sanitizeText(r.Record.Age),
			sanitizeText(r.Record.Gender),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy record (page=%d, cell=%d): %w", r.Page, r.Cell, err)
		}
	}

	// Flush the COPY buffer
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush records: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// GetRecords returns the stored records of a job in page, then cell order
func (p *PostgresClient) GetRecords(ctx context.Context, jobID string) ([]voter.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT voter_id, voter_name, relative_name, house_number, age, gender
		FROM voterroll.voter_records
		WHERE job_id = $1::uuid
		ORDER BY page, cell
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []voter.Record
	for rows.Next() {
		var r voter.Record
		if err := rows.Scan(&r.VoterID, &r.VoterName, &r.RelativeName, &r.HouseNumber, &r.Age, &r.Gender); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, filename, status, total_pages, pages_done, record_count,
			failed_pages, failed_cells, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		FROM voterroll.jobs
		WHERE id = $1::uuid
	`

	var (
		job                     Job
		processingTimeMs        sql.NullInt64
		errorCode, errorMessage sql.NullString
		metadataJSON            []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Filename, &job.Status, &job.TotalPages, &job.PagesDone,
		&job.RecordCount, &job.FailedPages, &job.FailedCells, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String

	return &job, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

// sanitizeText makes OCR output storable as TEXT: PostgreSQL rejects NUL
// bytes and invalid UTF-8, both of which OCR engines occasionally emit.
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return strings.ReplaceAll(s, "\x00", "")
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
