package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const downloadJobColumns = `
	item_id, status, progress, bytes_downloaded, total_bytes, error_message,
	quality, metadata_json, created_at, updated_at
`

// DownloadJobRepository persists [models.DownloadJob] rows keyed by item id.
//
// It holds no cache; the in-memory view lives in the task registry, which is its only writer.
type DownloadJobRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.DownloadJob] = (*DownloadJobRepository)(nil)

// NewDownloadJobRepository creates a new DownloadJobRepository with the given database connection
func NewDownloadJobRepository(db *sql.DB) *DownloadJobRepository {
	return &DownloadJobRepository{db: db}
}

// Save inserts or fully overwrites the job row for job.ItemID.
func (r *DownloadJobRepository) Save(ctx context.Context, job *models.DownloadJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	var errorMessage any = job.ErrorMessage
	if job.ErrorMessage == "" {
		errorMessage = nil
	}

	query := `
		INSERT INTO download_jobs (` + downloadJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			bytes_downloaded = excluded.bytes_downloaded,
			total_bytes = excluded.total_bytes,
			error_message = excluded.error_message,
			quality = excluded.quality,
			metadata_json = excluded.metadata_json,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ItemID,
		string(job.Status),
		job.Progress,
		job.BytesDownloaded,
		job.TotalBytes,
		errorMessage,
		string(job.Quality),
		string(metadata),
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save download job: %w", err)
	}
	return nil
}

// Get retrieves a job by item id. Returns [shared.ErrJobNotFound] when there is none.
func (r *DownloadJobRepository) Get(ctx context.Context, itemID string) (*models.DownloadJob, error) {
	query := "SELECT " + downloadJobColumns + " FROM download_jobs WHERE item_id = ?"
	return scanDownloadJob(r.db.QueryRowContext(ctx, query, itemID))
}

// List retrieves jobs matching criteria, newest first.
//
// Supported criteria: "status" (a [models.JobStatus] or string) and "active" (bool, Pending or Downloading).
func (r *DownloadJobRepository) List(ctx context.Context, criteria map[string]any) ([]*models.DownloadJob, error) {
	query := "SELECT " + downloadJobColumns + " FROM download_jobs WHERE 1 = 1"
	args := []any{}

	switch status := criteria["status"].(type) {
	case models.JobStatus:
		query += " AND status = ?"
		args = append(args, string(status))
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	if active, ok := criteria["active"].(bool); ok && active {
		query += " AND status IN (?, ?)"
		args = append(args, string(models.JobPending), string(models.JobDownloading))
	}

	query += " ORDER BY created_at DESC, item_id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query download jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.DownloadJob
	for rows.Next() {
		job, err := scanDownloadJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// Delete removes the job row for itemID. A missing row is not an error.
func (r *DownloadJobRepository) Delete(ctx context.Context, itemID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM download_jobs WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("failed to delete download job: %w", err)
	}
	return nil
}

// DeleteAll removes every job row regardless of status.
func (r *DownloadJobRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM download_jobs")
	if err != nil {
		return 0, fmt.Errorf("failed to delete download jobs: %w", err)
	}
	return result.RowsAffected()
}

// ResetDownloading moves jobs stuck in Downloading back to Pending. Used at startup after a crash.
func (r *DownloadJobRepository) ResetDownloading(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE download_jobs SET status = ?, updated_at = ? WHERE status = ?",
		string(models.JobPending), time.Now().UTC(), string(models.JobDownloading),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset downloading jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownloadJob(row rowScanner) (*models.DownloadJob, error) {
	var (
		job          models.DownloadJob
		status       string
		quality      string
		errorMessage sql.NullString
		metadata     string
	)

	err := row.Scan(
		&job.ItemID, &status, &job.Progress, &job.BytesDownloaded, &job.TotalBytes,
		&errorMessage, &quality, &metadata, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, shared.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan download job: %w", err)
	}

	if job.Status, err = models.ParseJobStatus(status); err != nil {
		return nil, err
	}
	job.Quality = models.Quality(quality)
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if err := json.Unmarshal([]byte(metadata), &job.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for job %s: %w", job.ItemID, err)
	}

	return &job, nil
}
