package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/samber/lo"
)

// Config tunes a [Coordinator].
type Config struct {
	MediaDir string
	CoverDir string

	// LockDir is locked on Open so that one process owns the offline directories. Empty disables locking.
	LockDir string

	Workers          int
	RateLimit        float64
	BufferSize       int
	ProgressInterval time.Duration
	DefaultQuality   models.Quality
	Resume           bool

	// StatusTimeout bounds how long a status event waits on a slow subscriber.
	StatusTimeout time.Duration
}

// ConfigFrom maps the application config onto a coordinator config.
func ConfigFrom(cfg *shared.Config) Config {
	return Config{
		MediaDir:         cfg.Storage.MediaPath(),
		CoverDir:         cfg.Storage.CoverPath(),
		LockDir:          cfg.Storage.DataDir,
		Workers:          cfg.Downloads.Workers,
		RateLimit:        cfg.Downloads.RateLimit,
		BufferSize:       cfg.Downloads.BufferSize,
		ProgressInterval: cfg.Downloads.ProgressInterval(),
		DefaultQuality:   models.Quality(cfg.Downloads.DefaultQuality),
		Resume:           cfg.Downloads.Resume,
	}
}

// Option configures optional collaborators of a [Coordinator].
type Option func(*Coordinator)

// WithDescriber resolves metadata for requests that arrive without it.
func WithDescriber(d services.Describer) Option {
	return func(c *Coordinator) { c.describer = d }
}

// WithCoverFetcher enables best-effort cover art downloads.
func WithCoverFetcher(f services.CoverFetcher) Option {
	return func(c *Coordinator) { c.covers = f }
}

// WithPlayer mirrors every committed queue into p.
func WithPlayer(p services.Player) Option {
	return func(c *Coordinator) { c.player = p }
}

// WithNormalizer repairs each file right after it is downloaded.
func WithNormalizer(n repositories.Normalizer) Option {
	return func(c *Coordinator) { c.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator is the public surface for offline downloads and the play queue.
//
// It owns the job [Registry], the download [Scheduler] and the event [Broadcaster]. Requests, cancellations
// and removals are serialized so that each one observes the previous one's effects on files and rows.
type Coordinator struct {
	cfg        Config
	store      *repositories.Store
	registry   *Registry
	scheduler  *Scheduler
	events     *Broadcaster
	fetcher    services.Fetcher
	describer  services.Describer
	covers     services.CoverFetcher
	normalizer repositories.Normalizer
	logger     *log.Logger

	mu      sync.Mutex
	lock    *shared.DirLock
	opened  bool
	started bool
	closed  bool

	queueMu  sync.Mutex
	playerMu sync.RWMutex
	player   services.Player
}

// NewCoordinator wires a Coordinator. Nothing touches the disk until [Coordinator.Open].
func NewCoordinator(store *repositories.Store, fetcher services.Fetcher, cfg Config, opts ...Option) *Coordinator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32 * 1024
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 250 * time.Millisecond
	}
	if !cfg.DefaultQuality.Valid() {
		cfg.DefaultQuality = models.QualityMedium
	}

	c := &Coordinator{cfg: cfg, store: store, fetcher: fetcher}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = shared.NewLogger(nil)
	}
	c.logger = shared.WithLogger(c.logger, "component", "coordinator")

	c.events = NewBroadcaster(cfg.StatusTimeout)
	c.registry = NewRegistry(store.Jobs, c.events)
	c.scheduler = NewScheduler(cfg.Workers, cfg.RateLimit, c.logger)
	return c
}

// Open locks the data directory, creates the offline directories, loads jobs and
// moves any job left Downloading by a previous process back to Pending. It schedules nothing.
func (c *Coordinator) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open(ctx)
}

func (c *Coordinator) open(ctx context.Context) error {
	if c.opened {
		return nil
	}
	if c.closed {
		return shared.ErrQueueClosed
	}

	if c.cfg.LockDir != "" {
		lock, err := shared.LockDir(c.cfg.LockDir)
		if err != nil {
			return err
		}
		c.lock = lock
	}

	for _, dir := range []string{c.cfg.MediaDir, c.cfg.CoverDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			c.lock.Unlock()
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	recovered, err := c.store.Jobs.ResetDownloading(ctx)
	if err != nil {
		c.lock.Unlock()
		return err
	}
	if err := c.registry.Load(ctx); err != nil {
		c.lock.Unlock()
		return err
	}
	if recovered > 0 {
		c.logger.Info("recovered interrupted downloads", "count", recovered)
	}

	c.opened = true
	return nil
}

// Start opens the coordinator if needed and schedules every active job.
// Requests made after Start are scheduled immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.open(ctx); err != nil {
		return err
	}
	c.started = true

	active := c.registry.Active()
	for _, job := range active {
		c.schedule(job.ItemID)
	}
	c.logger.Debug("coordinator started", "active", len(active))
	return nil
}

// Close stops background work, closes subscriber channels and releases the directory lock.
// Interrupted jobs stay Downloading and are recovered by the next Open.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.started = false
	c.mu.Unlock()

	if running := c.scheduler.Keys(); len(running) > 0 {
		c.logger.Info("stopping downloads", "items", running)
	}
	c.scheduler.Shutdown()
	c.events.Close()
	return c.lock.Unlock()
}

// AttachPlayer replaces the player that queue changes are mirrored into. nil detaches.
func (c *Coordinator) AttachPlayer(p services.Player) {
	c.playerMu.Lock()
	defer c.playerMu.Unlock()
	c.player = p
}

// Subscribe registers for job, queue and catalog events. Call the returned func to unsubscribe.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.Subscribe(buffer)
}

// RequestDownload creates a Pending job for itemID and schedules its fetch.
//
// An active job for the same item is returned unchanged and no second fetch is scheduled. A terminal job
// is replaced, except that a Completed job whose track is still in the catalog is returned as is.
// meta may be nil when a describer is configured. An empty quality selects the configured default.
func (c *Coordinator) RequestDownload(ctx context.Context, itemID string, meta *models.Item, quality models.Quality) (*models.DownloadJob, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id", shared.ErrMissingArgument)
	}
	if quality == "" {
		quality = c.cfg.DefaultQuality
	}
	if !quality.Valid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidQuality, quality)
	}

	if job, ok := c.registry.Get(ctx, itemID); ok {
		if job.Status.IsActive() {
			c.mu.Lock()
			c.schedule(itemID)
			c.mu.Unlock()
			return job, nil
		}
		if job.Status == models.JobCompleted {
			if ok, err := c.store.Tracks.IsDownloaded(ctx, itemID); err == nil && ok {
				return job, nil
			}
		}
	}

	item, err := c.resolveItem(ctx, itemID, meta)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	job, created, err := c.registry.Create(ctx, *item, quality)
	if err != nil {
		return nil, err
	}
	if created {
		c.logger.Info("download requested", "item", itemID, "quality", quality)
	}
	c.schedule(itemID)
	return job, nil
}

// CancelDownload stops an active job, removes its partial files and deletes its row.
// Cancelling an unknown or terminal job is a no-op.
func (c *Coordinator) CancelDownload(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.registry.Get(ctx, itemID)
	if !ok || !job.Status.IsActive() {
		return nil
	}

	if err := c.stopWork(ctx, itemID); err != nil {
		return err
	}

	// The task may have finished between the check and the stop.
	job, ok = c.registry.Get(ctx, itemID)
	if !ok || !job.Status.IsActive() {
		return nil
	}

	if _, err := c.registry.Transition(ctx, itemID, models.JobCancelled, ""); err != nil {
		return err
	}
	if err := c.removeItemFiles(itemID); err != nil {
		c.logger.Warn("failed to remove partial files", "item", itemID, "error", err)
	}
	if err := c.store.Tracks.Delete(ctx, itemID); err != nil {
		return err
	}
	if err := c.registry.Delete(ctx, itemID); err != nil {
		return err
	}

	c.logger.Info("download cancelled", "item", itemID)
	return nil
}

// Retry re-requests a Failed or Cancelled job with its stored metadata and quality.
func (c *Coordinator) Retry(ctx context.Context, itemID string) (*models.DownloadJob, error) {
	job, ok := c.registry.Get(ctx, itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, itemID)
	}
	if job.Status != models.JobFailed && job.Status != models.JobCancelled {
		return nil, fmt.Errorf("%w: job %s is %s", shared.ErrInvalidArgument, itemID, job.Status)
	}
	meta := job.Metadata
	return c.RequestDownload(ctx, itemID, &meta, job.Quality)
}

// Progress returns the current job for itemID.
func (c *Coordinator) Progress(ctx context.Context, itemID string) (*models.DownloadJob, bool) {
	return c.registry.Get(ctx, itemID)
}

// ListActive returns Pending and Downloading jobs, oldest first.
func (c *Coordinator) ListActive() []*models.DownloadJob {
	return c.registry.Active()
}

// ListJobs returns every known job, oldest first.
func (c *Coordinator) ListJobs() []*models.DownloadJob {
	return c.registry.All()
}

// RemoveOfflineTrack deletes an item's media and cover files, its catalog row and its job.
// An in-flight download of the item is stopped first.
func (c *Coordinator) RemoveOfflineTrack(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stopWork(ctx, itemID); err != nil {
		return err
	}
	return c.removeTrack(ctx, itemID, "removed")
}

// VerifyIntegrity drops catalog rows whose media file is missing or empty and returns their ids.
// A row whose file survives under another {id}.* name is repointed at it instead.
func (c *Coordinator) VerifyIntegrity(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracks, err := c.store.Tracks.ListRaw(ctx, nil)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, track := range tracks {
		info, err := os.Stat(track.LocalFilePath)
		if err == nil && info.Size() > 0 {
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("stat %s: %w", track.LocalFilePath, err)
		}

		if c.scheduler.Running(track.ID) {
			continue
		}
		if found, ok := c.relocate(ctx, track); ok {
			c.logger.Info("offline file relocated", "item", track.ID, "from", track.LocalFilePath, "to", found.LocalFilePath)
			continue
		}

		c.logger.Warn("offline file missing", "item", track.ID, "path", track.LocalFilePath)
		if err := c.removeTrack(ctx, track.ID, "missing file"); err != nil {
			return removed, err
		}
		removed = append(removed, track.ID)
	}
	return removed, nil
}

// ClearAll stops every download and wipes the offline directories, the catalog and the job table.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.CancelAll()

	for _, dir := range []string{c.cfg.MediaDir, c.cfg.CoverDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	tracks, err := c.store.Tracks.DeleteAll(ctx)
	if err != nil {
		return err
	}
	jobs, err := c.registry.DeleteAll(ctx)
	if err != nil {
		return err
	}

	c.events.Publish(trackRemovedEvent("", "cleared"))
	c.logger.Info("offline storage cleared", "tracks", tracks, "jobs", jobs)
	return nil
}

// OfflineTracks lists the catalog, normalized. Empty filters match everything.
func (c *Coordinator) OfflineTracks(ctx context.Context, artist, album string) ([]*models.OfflineTrack, error) {
	return c.store.Tracks.List(ctx, map[string]any{"artist": artist, "album": album})
}

// OfflineTrack returns one normalized catalog entry.
func (c *Coordinator) OfflineTrack(ctx context.Context, itemID string) (*models.OfflineTrack, error) {
	return c.store.Tracks.Get(ctx, itemID)
}

// Stats summarizes the offline catalog.
func (c *Coordinator) Stats(ctx context.Context) (repositories.StorageStats, error) {
	return c.store.Tracks.Stats(ctx)
}

// schedule hands the item to the scheduler once the coordinator has started. Must hold c.mu.
func (c *Coordinator) schedule(itemID string) {
	if !c.started {
		return
	}
	c.scheduler.Enqueue(itemID, func(ctx context.Context) { c.runDownload(ctx, itemID) })
}

// stopWork cancels the item's task and waits for it to exit.
func (c *Coordinator) stopWork(ctx context.Context, itemID string) error {
	select {
	case <-c.scheduler.Cancel(itemID):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// removeTrack deletes files, the catalog row and the job for itemID. Must hold c.mu.
func (c *Coordinator) removeTrack(ctx context.Context, itemID, reason string) error {
	track, err := c.store.Tracks.GetRaw(ctx, itemID)
	if err != nil && !errors.Is(err, shared.ErrTrackNotFound) {
		return err
	}
	if track != nil {
		for _, path := range []string{track.LocalFilePath, track.CoverArtPath} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("failed to remove file", "item", itemID, "path", path, "error", err)
			}
		}
	}

	if err := c.removeItemFiles(itemID); err != nil {
		c.logger.Warn("failed to remove item files", "item", itemID, "error", err)
	}
	if err := c.store.Tracks.Delete(ctx, itemID); err != nil {
		return err
	}
	if err := c.registry.Delete(ctx, itemID); err != nil {
		return err
	}

	c.events.Publish(trackRemovedEvent(itemID, reason))
	c.logger.Info("offline track removed", "item", itemID, "reason", reason)
	return nil
}

// removeItemFiles deletes every file named {itemID}.* in the media and cover directories.
// relocate looks for a non-empty {id}.* media file next to the stored path or in the media directory,
// canonical name first, and persists the track pointed at it. Partial and temp files never count.
func (c *Coordinator) relocate(ctx context.Context, track *models.OfflineTrack) (*models.OfflineTrack, bool) {
	candidates := []string{track.CanonicalPath()}
	for _, dir := range lo.Uniq([]string{filepath.Dir(track.LocalFilePath), c.cfg.MediaDir}) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, track.ID+".") {
				continue
			}
			if ext := filepath.Ext(name); ext == ".part" || ext == ".tmp" {
				continue
			}
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, path := range candidates {
		if path == track.LocalFilePath {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}

		found := track.Clone()
		found.LocalFilePath = path
		found.FileSize = info.Size()
		found.Codec = ""
		if c.normalizer != nil {
			if fixed, err := c.normalizer.Normalize(ctx, found); err == nil {
				found = fixed
			}
		}
		if found.Codec == "" {
			found.Codec = track.Codec
		}
		if err := c.store.Tracks.Upsert(ctx, found); err != nil {
			c.logger.Warn("failed to persist relocated track", "item", track.ID, "error", err)
		}
		return found, true
	}
	return nil, false
}

func (c *Coordinator) removeItemFiles(itemID string) error {
	prefix := itemID + "."
	var errs []error
	for _, dir := range []string{c.cfg.MediaDir, c.cfg.CoverDir} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) resolveItem(ctx context.Context, itemID string, meta *models.Item) (*models.Item, error) {
	if meta != nil {
		item := *meta
		item.ID = itemID
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		return &item, nil
	}
	if c.describer == nil {
		return nil, fmt.Errorf("%w: metadata for %s", shared.ErrMissingArgument, itemID)
	}

	item, err := c.describer.DescribeItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", itemID, err)
	}
	item.ID = itemID
	return item, nil
}
