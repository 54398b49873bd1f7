// package repositories provides persistence layer implementations for all model types.
//
// Each repository owns one table; [Store] wires them against a single database handle.
package repositories

import (
	"database/sql"

	"github.com/charmbracelet/log"
)

// Store bundles the repositories that share one database handle.
type Store struct {
	Queue  *QueueRepository
	Jobs   *DownloadJobRepository
	Tracks *OfflineTrackRepository
}

// NewStore builds every repository over db. The queue writer goroutine starts immediately.
func NewStore(db *sql.DB, normalizer Normalizer, logger *log.Logger) *Store {
	return &Store{
		Queue:  NewQueueRepository(db),
		Jobs:   NewDownloadJobRepository(db),
		Tracks: NewOfflineTrackRepository(db, normalizer, logger),
	}
}

// Close stops the queue writer. The database handle stays open; it belongs to the caller.
func (s *Store) Close() {
	s.Queue.Close()
}
