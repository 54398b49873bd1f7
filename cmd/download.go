package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// pollInterval bounds how long a dropped status event can delay the wait loop.
const pollInterval = 500 * time.Millisecond

// DownloadGet requests each positional id and, with --wait, runs the downloads in this process.
func (r *Runner) DownloadGet(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}

	var quality models.Quality
	if name := cmd.String("quality"); name != "" {
		if quality, err = models.ParseQuality(name); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidQuality, err)
		}
	}

	wait := cmd.Bool("wait")
	c, err := r.open(ctx, wait)
	if err != nil {
		return err
	}

	var events <-chan tasks.Event
	if wait {
		var unsubscribe func()
		events, unsubscribe = c.Subscribe(256)
		defer unsubscribe()
	}

	jobs := make([]*models.DownloadJob, 0, len(ids))
	for _, id := range ids {
		job, err := c.RequestDownload(ctx, id, nil, quality)
		if err != nil {
			return fmt.Errorf("request %s: %w", id, err)
		}
		r.logger.Info("download requested", "item", id, "status", job.Status, "quality", job.Quality)
		jobs = append(jobs, job)
	}

	if !wait {
		r.writePlain("%s\n", formatter.JobsTable(jobs))
		return r.writePlain("Jobs are queued; run 'crate serve' or 'crate monitor' to process them.\n")
	}
	return r.waitForJobs(ctx, c, events, ids)
}

// DownloadCancel cancels each positional id.
func (r *Runner) DownloadCancel(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}

	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.CancelDownload(ctx, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
		r.writePlain("✓ Cancelled %s\n", id)
	}
	return nil
}

// DownloadStatus shows one job, or every job when no id is given.
func (r *Runner) DownloadStatus(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}

	jobs := c.ListJobs()
	if id := cmd.Args().First(); id != "" {
		job, ok := c.Progress(ctx, id)
		if !ok {
			return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
		}
		jobs = []*models.DownloadJob{job}
	}
	return r.writeJobs(jobs, cmd.Bool("json"))
}

// DownloadActive shows Pending and Downloading jobs.
func (r *Runner) DownloadActive(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	return r.writeJobs(c.ListActive(), cmd.Bool("json"))
}

// DownloadRetry re-requests a Failed or Cancelled job.
func (r *Runner) DownloadRetry(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}

	wait := cmd.Bool("wait")
	c, err := r.open(ctx, wait)
	if err != nil {
		return err
	}

	var events <-chan tasks.Event
	if wait {
		var unsubscribe func()
		events, unsubscribe = c.Subscribe(256)
		defer unsubscribe()
	}

	for _, id := range ids {
		job, err := c.Retry(ctx, id)
		if err != nil {
			return fmt.Errorf("retry %s: %w", id, err)
		}
		r.logger.Info("download retried", "item", id, "status", job.Status)
	}

	if !wait {
		return r.writePlain("✓ Retry queued for %d item(s)\n", len(ids))
	}
	return r.waitForJobs(ctx, c, events, ids)
}

func (r *Runner) writeJobs(jobs []*models.DownloadJob, asJSON bool) error {
	if asJSON {
		return r.writeJSON(jobs, true)
	}
	if len(jobs) == 0 {
		return r.writePlain("No downloads\n")
	}
	return r.writePlain("%s\n", formatter.JobsTable(jobs))
}

// waitForJobs drives a byte progress bar until every id reaches a terminal status.
// It returns an error naming the jobs that did not complete.
func (r *Runner) waitForJobs(ctx context.Context, c *tasks.Coordinator, events <-chan tasks.Event, ids []string) error {
	state := make(map[string]*models.DownloadJob, len(ids))
	for _, id := range ids {
		if job, ok := c.Progress(ctx, id); ok {
			state[id] = job
		}
	}

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(r.output),
		progressbar.OptionSetDescription(describeWait(state, ids)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !allTerminal(state, ids) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", shared.ErrServiceUnavailable)
			}
			if e.Job == nil {
				continue
			}
			if !lo.Contains(ids, e.ItemID) {
				continue
			}
			state[e.ItemID] = e.Job
		case <-ticker.C:
			for _, id := range ids {
				job, ok := c.Progress(ctx, id)
				switch {
				case ok:
					state[id] = job
				case state[id] != nil:
					// Cancelled elsewhere; the row is gone.
					gone := state[id].Clone()
					gone.Status = models.JobCancelled
					state[id] = gone
				}
			}
		}

		downloaded, total := sumBytes(state)
		if total > 0 {
			bar.ChangeMax64(total)
		}
		bar.Describe(describeWait(state, ids))
		bar.Set64(downloaded)
	}
	bar.Finish()

	var failed []error
	for _, id := range ids {
		job := state[id]
		switch job.Status {
		case models.JobCompleted:
			r.writePlain("✓ %s\n", job.Metadata.DisplayName())
		default:
			msg := job.ErrorMessage
			if msg == "" {
				msg = job.Status.String()
			}
			r.writePlain("✗ %s: %s\n", job.Metadata.DisplayName(), msg)
			failed = append(failed, fmt.Errorf("%s: %s", id, msg))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d download(s) did not complete: %w", len(failed), errors.Join(failed...))
	}
	return nil
}

func allTerminal(state map[string]*models.DownloadJob, ids []string) bool {
	for _, id := range ids {
		job, ok := state[id]
		if !ok || !job.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func sumBytes(state map[string]*models.DownloadJob) (downloaded, total int64) {
	for _, job := range state {
		downloaded += job.BytesDownloaded
		total += job.TotalBytes
	}
	return downloaded, total
}

func describeWait(state map[string]*models.DownloadJob, ids []string) string {
	done := 0
	for _, id := range ids {
		if job, ok := state[id]; ok && job.Status.IsTerminal() {
			done++
		}
	}
	return fmt.Sprintf("[%d/%d] downloading", done, len(ids))
}
