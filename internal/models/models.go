// package models defines the data model for the offline cache and play queue
package models

import (
	"context"
	"fmt"
	"time"
)

// Repository defines the read/delete surface shared by the keyed catalogs (download jobs, offline tracks).
// Writes differ per entity and live on the concrete repositories.
type Repository[T any] interface {
	Get(ctx context.Context, id string) (T, error)                   // Get retrieves a record by its item id
	Delete(ctx context.Context, id string) error                     // Delete removes a record; deleting a missing record is not an error
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves all records matching the given criteria
}

// Item describes one playable unit on the remote server.
//
// Metadata is copied into jobs and offline tracks at request time and never re-fetched.
type Item struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMs int64  `json:"duration_ms"`
	SourceURL  string `json:"source_url,omitempty"`
	CoverURL   string `json:"cover_url,omitempty"`
}

// Validate checks the item carries an id.
func (i Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if i.DurationMs < 0 {
		return fmt.Errorf("item %s: duration cannot be negative", i.ID)
	}
	return nil
}

// DisplayName returns "Artist - Title", falling back to the id.
func (i Item) DisplayName() string {
	switch {
	case i.Title == "":
		return i.ID
	case i.Artist == "":
		return i.Title
	default:
		return i.Artist + " - " + i.Title
	}
}

// QueueEntry is one position in the play queue.
//
// The same item id may appear more than once. Order is always the entry's index in the snapshot it came from.
type QueueEntry struct {
	ID               string     `json:"id"`
	Order            int        `json:"order"`
	LastPlayedAt     *time.Time `json:"last_played_at,omitempty"`
	PausedPositionMs int64      `json:"paused_position_ms"`
}

// NewQueueEntries wraps item ids into entries numbered from 0.
func NewQueueEntries(ids []string) []QueueEntry {
	entries := make([]QueueEntry, len(ids))
	for i, id := range ids {
		entries[i] = QueueEntry{ID: id, Order: i}
	}
	return entries
}

// Renumber rewrites Order so entries are dense from 0 in slice order.
func Renumber(entries []QueueEntry) []QueueEntry {
	for i := range entries {
		entries[i].Order = i
	}
	return entries
}

// CheckDense reports an error unless orders form 0..N-1 in slice order.
func CheckDense(entries []QueueEntry) error {
	for i, e := range entries {
		if e.Order != i {
			return fmt.Errorf("queue order not dense: position %d holds order %d", i, e.Order)
		}
		if e.ID == "" {
			return fmt.Errorf("queue entry at %d has no item id", i)
		}
		if e.PausedPositionMs < 0 {
			return fmt.Errorf("queue entry at %d has negative paused position", i)
		}
	}
	return nil
}

// EntryIDs returns the item ids of entries in order.
func EntryIDs(entries []QueueEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
