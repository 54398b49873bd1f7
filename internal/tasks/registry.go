package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
)

// Registry is the single writer for download jobs.
//
// It keeps an in-memory view in front of [repositories.DownloadJobRepository]; both are updated under one mutex,
// store first, so a failed write never leaves the cache ahead of the database. Events are published while the
// lock is held, which gives subscribers the same order in which changes were applied.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*models.DownloadJob
	repo   *repositories.DownloadJobRepository
	events *Broadcaster
	now    func() time.Time
}

// NewRegistry creates an empty registry. Call [Registry.Load] to populate it from the store.
func NewRegistry(repo *repositories.DownloadJobRepository, events *Broadcaster) *Registry {
	return &Registry{
		jobs:   make(map[string]*models.DownloadJob),
		repo:   repo,
		events: events,
		now:    time.Now,
	}
}

// Load replaces the cache with every persisted job.
func (r *Registry) Load(ctx context.Context) error {
	jobs, err := r.repo.List(ctx, nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[string]*models.DownloadJob, len(jobs))
	for _, job := range jobs {
		r.jobs[job.ItemID] = job
	}
	return nil
}

// Create registers a Pending job for item unless an active one exists.
//
// created is false when the existing active job is returned instead. A terminal job for the same item is replaced.
func (r *Registry) Create(ctx context.Context, item models.Item, quality models.Quality) (job *models.DownloadJob, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.lookup(ctx, item.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Status.IsActive() {
		return existing.Clone(), false, nil
	}

	next := models.NewDownloadJob(item, quality, r.now())
	if err := r.store(ctx, next); err != nil {
		return nil, false, err
	}
	r.events.Publish(jobStatusEvent(next))
	return next.Clone(), true, nil
}

// Get returns a copy of the job for itemID.
func (r *Registry) Get(ctx context.Context, itemID string) (*models.DownloadJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.lookup(ctx, itemID)
	if err != nil || job == nil {
		return nil, false
	}
	return job.Clone(), true
}

// Active returns Pending and Downloading jobs, oldest first.
func (r *Registry) Active() []*models.DownloadJob {
	return r.snapshot(func(j *models.DownloadJob) bool { return j.Status.IsActive() })
}

// All returns every cached job, oldest first.
func (r *Registry) All() []*models.DownloadJob {
	return r.snapshot(func(*models.DownloadJob) bool { return true })
}

// Transition moves the job to status.
//
// Entering Completed pins progress at 1. errMsg is only recorded for Failed.
func (r *Registry) Transition(ctx context.Context, itemID string, status models.JobStatus, errMsg string) (*models.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.require(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: job %s cannot move from %s to %s", shared.ErrInvalidArgument, itemID, job.Status, status)
	}

	next := job.Clone()
	next.Status = status
	next.ErrorMessage = ""
	next.UpdatedAt = r.now()

	switch status {
	case models.JobFailed:
		next.ErrorMessage = errMsg
	case models.JobCompleted:
		next.Progress = 1
		if next.TotalBytes < next.BytesDownloaded {
			next.TotalBytes = next.BytesDownloaded
		}
	}

	if err := r.store(ctx, next); err != nil {
		return nil, err
	}
	r.events.Publish(jobStatusEvent(next))
	return next.Clone(), nil
}

// UpdateProgress records byte counts for a Downloading job.
//
// Progress never decreases, even when a resumed transfer restarts from zero.
func (r *Registry) UpdateProgress(ctx context.Context, itemID string, downloaded, total int64) (*models.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.require(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobDownloading {
		return nil, fmt.Errorf("%w: job %s is %s", shared.ErrInvalidArgument, itemID, job.Status)
	}

	next := job.Clone()
	next.BytesDownloaded = downloaded
	next.TotalBytes = total
	next.Progress = max(job.Progress, models.ComputeProgress(downloaded, total))
	next.UpdatedAt = r.now()

	if err := r.store(ctx, next); err != nil {
		return nil, err
	}
	r.events.Publish(jobProgressEvent(next))
	return next.Clone(), nil
}

// Delete drops the job from the store and the cache.
func (r *Registry) Delete(ctx context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repo.Delete(ctx, itemID); err != nil {
		return err
	}
	delete(r.jobs, itemID)
	return nil
}

// DeleteAll drops every job.
func (r *Registry) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	r.jobs = make(map[string]*models.DownloadJob)
	return n, nil
}

func (r *Registry) snapshot(keep func(*models.DownloadJob) bool) []*models.DownloadJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*models.DownloadJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		if keep(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	slices.SortFunc(jobs, func(a, b *models.DownloadJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return jobs
}

// lookup reads through the cache to the store. Must hold r.mu.
func (r *Registry) lookup(ctx context.Context, itemID string) (*models.DownloadJob, error) {
	if job, ok := r.jobs[itemID]; ok {
		return job, nil
	}

	job, err := r.repo.Get(ctx, itemID)
	if errors.Is(err, shared.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.jobs[itemID] = job
	return job, nil
}

// require is lookup that treats absence as [shared.ErrJobNotFound]. Must hold r.mu.
func (r *Registry) require(ctx context.Context, itemID string) (*models.DownloadJob, error) {
	job, err := r.lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, itemID)
	}
	return job, nil
}

// store persists job then caches it. Must hold r.mu.
func (r *Registry) store(ctx context.Context, job *models.DownloadJob) error {
	if err := r.repo.Save(ctx, job); err != nil {
		return err
	}
	r.jobs[job.ItemID] = job
	return nil
}
