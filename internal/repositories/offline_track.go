package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/samber/lo"
)

const offlineTrackColumns = `
	id, title, artist, album, duration_ms, local_file_path, original_url,
	cover_art_path, downloaded_at, file_size, quality, codec
`

// Normalizer brings a track's file into canonical form and returns the corrected record.
type Normalizer interface {
	Normalize(ctx context.Context, track *models.OfflineTrack) (*models.OfflineTrack, error)
}

// StorageStats summarizes the offline catalog.
type StorageStats struct {
	Tracks     int   `json:"tracks"`
	TotalBytes int64 `json:"total_bytes"`
}

// OfflineTrackRepository is the catalog of fully downloaded tracks.
//
// Every read that returns a track passes it through the [Normalizer] first and persists any correction,
// so callers never see a stale path or size.
type OfflineTrackRepository struct {
	db         *sql.DB
	normalizer Normalizer
	logger     *log.Logger
}

var _ models.Repository[*models.OfflineTrack] = (*OfflineTrackRepository)(nil)

// NewOfflineTrackRepository creates the catalog. A nil normalizer disables read-path repair.
func NewOfflineTrackRepository(db *sql.DB, normalizer Normalizer, logger *log.Logger) *OfflineTrackRepository {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &OfflineTrackRepository{db: db, normalizer: normalizer, logger: shared.WithLogger(logger, "component", "offline")}
}

// Upsert inserts the track or replaces the row with the same id.
func (r *OfflineTrackRepository) Upsert(ctx context.Context, track *models.OfflineTrack) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	var coverArt any = track.CoverArtPath
	if track.CoverArtPath == "" {
		coverArt = nil
	}

	query := `
		INSERT INTO offline_tracks (` + offlineTrackColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration_ms = excluded.duration_ms,
			local_file_path = excluded.local_file_path,
			original_url = excluded.original_url,
			cover_art_path = excluded.cover_art_path,
			downloaded_at = excluded.downloaded_at,
			file_size = excluded.file_size,
			quality = excluded.quality,
			codec = excluded.codec
	`

	_, err := r.db.ExecContext(ctx, query,
		track.ID, track.Title, track.Artist, track.Album, track.DurationMs,
		track.LocalFilePath, track.OriginalURL, coverArt, track.DownloadedAt.UTC(),
		track.FileSize, string(track.Quality), track.Codec,
	)
	if err != nil {
		return fmt.Errorf("failed to save offline track: %w", err)
	}
	return nil
}

// Get retrieves a normalized track. Returns [shared.ErrTrackNotFound] when absent.
func (r *OfflineTrackRepository) Get(ctx context.Context, id string) (*models.OfflineTrack, error) {
	track, err := r.GetRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.normalize(ctx, track), nil
}

// GetRaw retrieves a track exactly as stored, without normalization.
func (r *OfflineTrackRepository) GetRaw(ctx context.Context, id string) (*models.OfflineTrack, error) {
	query := "SELECT " + offlineTrackColumns + " FROM offline_tracks WHERE id = ?"
	return scanOfflineTrack(r.db.QueryRowContext(ctx, query, id))
}

// List retrieves normalized tracks matching criteria, ordered by artist, album and title.
//
// Supported criteria: "artist" and "album" (exact match).
func (r *OfflineTrackRepository) List(ctx context.Context, criteria map[string]any) ([]*models.OfflineTrack, error) {
	tracks, err := r.ListRaw(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return lo.Map(tracks, func(t *models.OfflineTrack, _ int) *models.OfflineTrack {
		return r.normalize(ctx, t)
	}), nil
}

// ListRaw is [OfflineTrackRepository.List] without normalization. The integrity sweep reads through it.
func (r *OfflineTrackRepository) ListRaw(ctx context.Context, criteria map[string]any) ([]*models.OfflineTrack, error) {
	query := "SELECT " + offlineTrackColumns + " FROM offline_tracks WHERE 1 = 1"
	args := []any{}

	if artist, ok := criteria["artist"].(string); ok && artist != "" {
		query += " AND artist = ?"
		args = append(args, artist)
	}

	if album, ok := criteria["album"].(string); ok && album != "" {
		query += " AND album = ?"
		args = append(args, album)
	}

	query += " ORDER BY artist ASC, album ASC, title ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.OfflineTrack
	for rows.Next() {
		track, err := scanOfflineTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// ListByArtist retrieves normalized tracks by one artist.
func (r *OfflineTrackRepository) ListByArtist(ctx context.Context, artist string) ([]*models.OfflineTrack, error) {
	return r.List(ctx, map[string]any{"artist": artist})
}

// ListByAlbum retrieves normalized tracks on one album.
func (r *OfflineTrackRepository) ListByAlbum(ctx context.Context, album string) ([]*models.OfflineTrack, error) {
	return r.List(ctx, map[string]any{"album": album})
}

// IsDownloaded reports whether a row exists for id.
func (r *OfflineTrackRepository) IsDownloaded(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM offline_tracks WHERE id = ?)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check offline track: %w", err)
	}
	return exists, nil
}

// Delete removes the row for id. A missing row is not an error.
func (r *OfflineTrackRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM offline_tracks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete offline track: %w", err)
	}
	return nil
}

// DeleteAll removes every row.
func (r *OfflineTrackRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM offline_tracks")
	if err != nil {
		return 0, fmt.Errorf("failed to delete offline tracks: %w", err)
	}
	return result.RowsAffected()
}

// Stats counts tracks and sums their recorded sizes.
func (r *OfflineTrackRepository) Stats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM offline_tracks").
		Scan(&stats.Tracks, &stats.TotalBytes)
	if err != nil {
		return StorageStats{}, fmt.Errorf("failed to compute storage stats: %w", err)
	}
	return stats, nil
}

// normalize repairs the track's file and persists the correction.
// Failures are warnings: the caller gets the record as stored.
func (r *OfflineTrackRepository) normalize(ctx context.Context, track *models.OfflineTrack) *models.OfflineTrack {
	if r.normalizer == nil {
		return track
	}

	fixed, err := r.normalizer.Normalize(ctx, track.Clone())
	if err != nil {
		r.logger.Warn("normalization failed", "track", track.ID, "path", track.LocalFilePath, "error", err)
		return track
	}

	if fixed.LocalFilePath == track.LocalFilePath && fixed.FileSize == track.FileSize && fixed.Codec == track.Codec {
		return track
	}

	if err := r.Upsert(ctx, fixed); err != nil {
		r.logger.Warn("failed to persist normalized track", "track", track.ID, "error", err)
		return track
	}

	r.logger.Debug("normalized track", "track", track.ID, "from", track.LocalFilePath, "to", fixed.LocalFilePath, "size", fixed.FileSize)
	return fixed
}

func scanOfflineTrack(row rowScanner) (*models.OfflineTrack, error) {
	var (
		track    models.OfflineTrack
		coverArt sql.NullString
		quality  string
	)

	err := row.Scan(
		&track.ID, &track.Title, &track.Artist, &track.Album, &track.DurationMs,
		&track.LocalFilePath, &track.OriginalURL, &coverArt, &track.DownloadedAt,
		&track.FileSize, &quality, &track.Codec,
	)
	if err == sql.ErrNoRows {
		return nil, shared.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offline track: %w", err)
	}

	track.Quality = models.Quality(quality)
	if coverArt.Valid {
		track.CoverArtPath = coverArt.String
	}
	return &track, nil
}
