package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// OfflineTrack is a fully downloaded, locally playable copy of an item.
type OfflineTrack struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Artist        string    `json:"artist"`
	Album         string    `json:"album"`
	DurationMs    int64     `json:"duration_ms"`
	LocalFilePath string    `json:"local_file_path"`
	FileSize      int64     `json:"file_size"`
	Quality       Quality   `json:"quality"`
	Codec         string    `json:"codec"`
	CoverArtPath  string    `json:"cover_art_path,omitempty"`
	DownloadedAt  time.Time `json:"downloaded_at"`
	OriginalURL   string    `json:"original_url"`
}

// NewOfflineTrack builds a track record for item stored at path.
func NewOfflineTrack(item Item, quality Quality, path string, size int64, now time.Time) *OfflineTrack {
	return &OfflineTrack{
		ID:            item.ID,
		Title:         item.Title,
		Artist:        item.Artist,
		Album:         item.Album,
		DurationMs:    item.DurationMs,
		LocalFilePath: path,
		FileSize:      size,
		Quality:       quality,
		DownloadedAt:  now,
		OriginalURL:   item.SourceURL,
	}
}

// Validate checks the required fields.
func (t *OfflineTrack) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("track id is required")
	}
	if t.LocalFilePath == "" {
		return fmt.Errorf("track %s: local file path is required", t.ID)
	}
	if !t.Quality.Valid() {
		return fmt.Errorf("track %s: unknown quality %q", t.ID, t.Quality)
	}
	if t.FileSize < 0 {
		return fmt.Errorf("track %s: file size cannot be negative", t.ID)
	}
	return nil
}

// CanonicalExt is the extension the file should carry: the codec's when known, the quality's otherwise.
func (t *OfflineTrack) CanonicalExt() string {
	if ext, ok := CodecExt(t.Codec); ok {
		return ext
	}
	return t.Quality.Ext()
}

// CanonicalPath is {dir of LocalFilePath}/{id}.{CanonicalExt}.
func (t *OfflineTrack) CanonicalPath() string {
	return filepath.Join(filepath.Dir(t.LocalFilePath), t.ID+"."+t.CanonicalExt())
}

// FileExt returns the extension currently on LocalFilePath, lowercased and without a dot.
func (t *OfflineTrack) FileExt() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(t.LocalFilePath), "."))
}

// Clone returns a copy of the track.
func (t *OfflineTrack) Clone() *OfflineTrack {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
