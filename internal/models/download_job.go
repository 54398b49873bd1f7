package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a [DownloadJob].
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
)

// ParseJobStatus validates a stored status value.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	switch status {
	case JobPending, JobDownloading, JobCompleted, JobFailed, JobCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsActive reports whether the job still owns work (Pending or Downloading).
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobDownloading
}

// IsTerminal reports whether the job has finished one way or another.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether moving from s to next is allowed.
//
// Pending -> Downloading -> {Completed, Failed}; Cancelled only from an active state.
// Downloading -> Pending is allowed for startup recovery.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobDownloading || next == JobFailed || next == JobCancelled
	case JobDownloading:
		return next == JobPending || next == JobCompleted || next == JobFailed || next == JobCancelled
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

// DownloadJob is one attempt to materialize an item's bytes on local storage.
type DownloadJob struct {
	ItemID          string    `json:"item_id"`
	Status          JobStatus `json:"status"`
	Progress        float64   `json:"progress"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	TotalBytes      int64     `json:"total_bytes"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Quality         Quality   `json:"quality"`
	Metadata        Item      `json:"metadata"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewDownloadJob creates a Pending job for item.
func NewDownloadJob(item Item, quality Quality, now time.Time) *DownloadJob {
	return &DownloadJob{
		ItemID:    item.ID,
		Status:    JobPending,
		Quality:   quality,
		Metadata:  item,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the job's fields against its lifecycle rules.
func (j *DownloadJob) Validate() error {
	if j.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	if _, err := ParseJobStatus(string(j.Status)); err != nil {
		return err
	}
	if !j.Quality.Valid() {
		return fmt.Errorf("job %s: unknown quality %q", j.ItemID, j.Quality)
	}
	if j.Progress < 0 || j.Progress > 1 {
		return fmt.Errorf("job %s: progress %v out of range", j.ItemID, j.Progress)
	}
	if j.BytesDownloaded < 0 || j.TotalBytes < 0 {
		return fmt.Errorf("job %s: byte counts cannot be negative", j.ItemID)
	}
	if j.ErrorMessage != "" && j.Status != JobFailed {
		return fmt.Errorf("job %s: error message set on %s job", j.ItemID, j.Status)
	}
	return nil
}

// Clone returns a copy safe to hand to another goroutine.
func (j *DownloadJob) Clone() *DownloadJob {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// ComputeProgress converts a byte count into a fraction, 0 when the total is unknown.
func ComputeProgress(downloaded, total int64) float64 {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	if downloaded >= total {
		return 1
	}
	return float64(downloaded) / float64(total)
}
