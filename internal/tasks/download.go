package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/normalizer"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/dustin/go-humanize"
)

// runDownload executes one job end to end. It never returns an error: the outcome lands on the job.
//
// When ctx is cancelled the job row is left as is; whoever cancelled owns the cleanup, and a shutdown
// leaves the job Downloading for recovery on the next start.
func (c *Coordinator) runDownload(ctx context.Context, itemID string) {
	job, ok := c.registry.Get(ctx, itemID)
	if !ok || !job.Status.IsActive() {
		return
	}

	logger := shared.WithLogger(c.logger, "item", itemID, "quality", job.Quality)
	started := time.Now()

	track, err := c.fetch(ctx, job, logger)
	if err == nil {
		err = c.complete(ctx, track)
	}

	if ctx.Err() != nil {
		logger.Debug("download interrupted", "error", ctx.Err())
		return
	}
	if err != nil {
		logger.Error("download failed", "error", err)
		if _, terr := c.registry.Transition(ctx, itemID, models.JobFailed, err.Error()); terr != nil {
			logger.Error("failed to record failure", "error", terr)
		}
		return
	}

	logger.Info("download completed",
		"size", humanize.Bytes(uint64(track.FileSize)),
		"path", track.LocalFilePath,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
}

// fetch streams the item into {id}.part, resuming from an existing part file when enabled, then moves it
// to {id}.{ext} and returns the track record describing it.
func (c *Coordinator) fetch(ctx context.Context, job *models.DownloadJob, logger *log.Logger) (*models.OfflineTrack, error) {
	itemID := job.ItemID
	part := filepath.Join(c.cfg.MediaDir, itemID+".part")

	var offset int64
	if c.cfg.Resume {
		if info, err := os.Stat(part); err == nil {
			offset = info.Size()
		}
	} else if err := os.Remove(part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale part file: %w", err)
	}

	if job.Status == models.JobPending {
		if _, err := c.registry.Transition(ctx, itemID, models.JobDownloading, ""); err != nil {
			return nil, err
		}
	}

	stream, err := c.fetcher.Fetch(ctx, itemID, job.Quality, offset)
	if offset > 0 && errors.Is(err, shared.ErrRangeNotSatisfiable) {
		logger.Warn("server rejected resume offset, restarting", "offset", humanize.Bytes(uint64(offset)), "error", err)
		if rerr := os.Remove(part); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale part file: %w", rerr)
		}
		offset = 0
		stream, err = c.fetcher.Fetch(ctx, itemID, job.Quality, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && stream.Offset == offset {
		flags |= os.O_APPEND
		logger.Info("resuming download", "offset", humanize.Bytes(uint64(offset)))
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}

	f, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open part file: %w", err)
	}

	downloaded, err := c.copyStream(ctx, f, stream.Body, itemID, offset, stream.ContentLength, logger)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close part file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	total := stream.ContentLength
	if total > 0 && downloaded < total {
		return nil, fmt.Errorf("stream ended after %d of %d bytes: %w", downloaded, total, io.ErrUnexpectedEOF)
	}
	if downloaded == 0 {
		return nil, fmt.Errorf("stream for %s was empty", itemID)
	}

	if _, err := c.registry.UpdateProgress(ctx, itemID, downloaded, max(total, downloaded)); err != nil {
		return nil, err
	}

	final := filepath.Join(c.cfg.MediaDir, itemID+"."+job.Quality.Ext())
	if err := normalizer.MoveFile(part, final); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", final, err)
	}

	return models.NewOfflineTrack(job.Metadata, job.Quality, final, downloaded, time.Now()), nil
}

// copyStream copies body into w, publishing progress at most once per interval. Returns the total byte count
// including offset.
func (c *Coordinator) copyStream(
	ctx context.Context,
	w io.Writer,
	body io.Reader,
	itemID string,
	offset, total int64,
	logger *log.Logger,
) (int64, error) {
	buf := make([]byte, c.cfg.BufferSize)
	downloaded := offset
	sampler := shared.NewProgressSampler(0.1)
	var last time.Time

	for {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return downloaded, fmt.Errorf("write part file: %w", err)
			}
			downloaded += int64(n)

			if time.Since(last) >= c.cfg.ProgressInterval {
				last = time.Now()
				job, err := c.registry.UpdateProgress(ctx, itemID, downloaded, total)
				if err != nil {
					return downloaded, err
				}
				if sampler.ShouldLog(job.Progress) {
					logger.Debug("download progress",
						"progress", fmt.Sprintf("%.0f%%", job.Progress*100),
						"downloaded", humanize.Bytes(uint64(downloaded)),
					)
				}
			}
		}

		if errors.Is(rerr, io.EOF) {
			return downloaded, nil
		}
		if rerr != nil {
			return downloaded, fmt.Errorf("read stream: %w", rerr)
		}
	}
}

// complete normalizes the file, fetches cover art and records the track, then marks the job Completed.
// A failure after the catalog write removes the row again so that no half-finished track is visible.
func (c *Coordinator) complete(ctx context.Context, track *models.OfflineTrack) error {
	if c.normalizer != nil {
		fixed, err := c.normalizer.Normalize(ctx, track)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			c.logger.Warn("normalization failed", "item", track.ID, "error", err)
		default:
			track = fixed
		}
	}

	track.CoverArtPath = c.fetchCover(ctx, track)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.Tracks.Upsert(ctx, track); err != nil {
		return err
	}
	if _, err := c.registry.Transition(ctx, track.ID, models.JobCompleted, ""); err != nil {
		if derr := c.store.Tracks.Delete(context.WithoutCancel(ctx), track.ID); derr != nil {
			c.logger.Error("failed to roll back track row", "item", track.ID, "error", derr)
		}
		return err
	}
	return nil
}

// fetchCover downloads cover art to {id}.{ext} in the cover directory. Failures are logged and yield "".
func (c *Coordinator) fetchCover(ctx context.Context, track *models.OfflineTrack) string {
	if c.covers == nil {
		return ""
	}

	job, ok := c.registry.Get(ctx, track.ID)
	if !ok {
		return ""
	}

	cover, err := c.covers.FetchCover(ctx, job.Metadata)
	if err != nil {
		c.logger.Warn("cover art unavailable", "item", track.ID, "error", err)
		return ""
	}
	defer cover.Body.Close()

	ext := cover.Ext
	if ext == "" {
		ext = "jpg"
	}
	path := filepath.Join(c.cfg.CoverDir, track.ID+"."+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		c.logger.Warn("failed to create cover file", "item", track.ID, "error", err)
		return ""
	}
	if _, err := io.Copy(f, cover.Body); err != nil {
		f.Close()
		os.Remove(path)
		c.logger.Warn("failed to write cover art", "item", track.ID, "error", err)
		return ""
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return ""
	}
	return path
}
