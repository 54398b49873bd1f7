package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/samber/lo"
)

// QueueRepository is the durable play queue.
//
// Every mutation is handed to a single writer goroutine and applied in arrival order, each one inside its
// own transaction: read the current rows, compute the new sequence, delete all rows, insert all rows.
// Readers query the table directly and only ever see committed snapshots.
type QueueRepository struct {
	db   *sql.DB
	now  func() time.Time
	ops  chan queueOp
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

type queueOp struct {
	ctx    context.Context
	apply  func(ctx context.Context, tx *sql.Tx) error
	result chan error
}

// editFunc computes the next queue from the current one. Returning false leaves the table untouched.
type editFunc func(current []models.QueueEntry) ([]models.QueueEntry, bool)

// NewQueueRepository starts the writer goroutine. Call [QueueRepository.Close] to stop it.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	r := &QueueRepository{
		db:   db,
		now:  time.Now,
		ops:  make(chan queueOp),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *QueueRepository) run() {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op.result <- r.apply(op)
		case <-r.quit:
			return
		}
	}
}

func (r *QueueRepository) apply(op queueOp) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(op.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin queue transaction: %w", err)
	}
	defer tx.Rollback()

	if err := op.apply(op.ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue transaction: %w", err)
	}
	return nil
}

// submit hands fn to the writer and waits for its outcome.
//
// Waiting to be accepted is bounded by ctx; once accepted the transaction itself observes ctx.
func (r *QueueRepository) submit(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	op := queueOp{ctx: ctx, apply: fn, result: make(chan error, 1)}

	select {
	case r.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return shared.ErrQueueClosed
	}

	return <-op.result
}

// edit runs one read-compute-replace cycle and returns the committed snapshot.
func (r *QueueRepository) edit(ctx context.Context, fn editFunc) ([]models.QueueEntry, error) {
	var snapshot []models.QueueEntry

	err := r.submit(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := queryEntries(ctx, tx)
		if err != nil {
			return err
		}

		next, changed := fn(current)
		if !changed {
			snapshot = current
			return nil
		}

		next = models.Renumber(next)
		if err := models.CheckDense(next); err != nil {
			panic(err)
		}

		if err := writeEntries(ctx, tx, next); err != nil {
			return err
		}
		snapshot = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Replace swaps the whole queue for ids. When startIndex is in range that entry is stamped as last played.
func (r *QueueRepository) Replace(ctx context.Context, ids []string, startIndex int) ([]models.QueueEntry, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	return r.edit(ctx, func([]models.QueueEntry) ([]models.QueueEntry, bool) {
		next := models.NewQueueEntries(ids)
		if startIndex >= 0 && startIndex < len(next) {
			next[startIndex].LastPlayedAt = &now
		}
		return next, true
	})
}

// InsertAt places id at afterIndex (clamped to the queue bounds) and shifts later entries back.
// With reset the queue becomes just this item.
func (r *QueueRepository) InsertAt(ctx context.Context, id string, reset bool, afterIndex int) ([]models.QueueEntry, error) {
	return r.InsertAllAt(ctx, []string{id}, reset, afterIndex)
}

// InsertAllAt places ids, in order, starting at afterIndex. With reset the queue becomes exactly ids.
func (r *QueueRepository) InsertAllAt(ctx context.Context, ids []string, reset bool, afterIndex int) ([]models.QueueEntry, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}

	return r.edit(ctx, func(current []models.QueueEntry) ([]models.QueueEntry, bool) {
		if reset {
			return models.NewQueueEntries(ids), true
		}
		if len(ids) == 0 {
			return current, false
		}

		at := lo.Clamp(afterIndex, 0, len(current))
		next := make([]models.QueueEntry, 0, len(current)+len(ids))
		next = append(next, current[:at]...)
		next = append(next, models.NewQueueEntries(ids)...)
		next = append(next, current[at:]...)
		return next, true
	})
}

// RemoveAt drops the entry at index. Out-of-range indices are ignored.
func (r *QueueRepository) RemoveAt(ctx context.Context, index int) ([]models.QueueEntry, error) {
	return r.RemoveRange(ctx, index, index+1)
}

// RemoveRange drops entries in [from, to). A from outside the current queue is ignored; to is clamped.
func (r *QueueRepository) RemoveRange(ctx context.Context, from, to int) ([]models.QueueEntry, error) {
	return r.edit(ctx, func(current []models.QueueEntry) ([]models.QueueEntry, bool) {
		if from < 0 || from >= len(current) {
			return current, false
		}
		to = lo.Clamp(to, from, len(current))
		if to == from {
			return current, false
		}

		next := make([]models.QueueEntry, 0, len(current)-(to-from))
		next = append(next, current[:from]...)
		next = append(next, current[to:]...)
		return next, true
	})
}

// Swap moves the entry at from so it ends up at to. Either index out of range is ignored.
func (r *QueueRepository) Swap(ctx context.Context, from, to int) ([]models.QueueEntry, error) {
	return r.edit(ctx, func(current []models.QueueEntry) ([]models.QueueEntry, bool) {
		n := len(current)
		if from < 0 || from >= n || to < 0 || to >= n || from == to {
			return current, false
		}

		moved := current[from]
		rest := make([]models.QueueEntry, 0, n)
		rest = append(rest, current[:from]...)
		rest = append(rest, current[from+1:]...)

		next := make([]models.QueueEntry, 0, n)
		next = append(next, rest[:to]...)
		next = append(next, moved)
		next = append(next, rest[to:]...)
		return next, true
	})
}

// Shuffle randomizes the queue. When keepIndex is in range that entry moves to the front and keeps its state.
func (r *QueueRepository) Shuffle(ctx context.Context, keepIndex int) ([]models.QueueEntry, error) {
	return r.edit(ctx, func(current []models.QueueEntry) ([]models.QueueEntry, bool) {
		if len(current) < 2 {
			return current, false
		}

		var head []models.QueueEntry
		rest := current
		if keepIndex >= 0 && keepIndex < len(current) {
			head = []models.QueueEntry{current[keepIndex]}
			rest = make([]models.QueueEntry, 0, len(current)-1)
			rest = append(rest, current[:keepIndex]...)
			rest = append(rest, current[keepIndex+1:]...)
		}

		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		return append(head, rest...), true
	})
}

// Clear empties the queue.
func (r *QueueRepository) Clear(ctx context.Context) error {
	_, err := r.edit(ctx, func(current []models.QueueEntry) ([]models.QueueEntry, bool) {
		return nil, len(current) > 0
	})
	return err
}

// MarkLastPlayed stamps every entry for itemID. Ordering is unaffected.
func (r *QueueRepository) MarkLastPlayed(ctx context.Context, itemID string, at time.Time) error {
	return r.submit(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE queue_entries SET last_played_at = ? WHERE item_id = ?", at.UTC(), itemID); err != nil {
			return fmt.Errorf("failed to mark last played: %w", err)
		}
		return nil
	})
}

// MarkPausedPosition records where playback of itemID stopped. Ordering is unaffected.
func (r *QueueRepository) MarkPausedPosition(ctx context.Context, itemID string, ms int64) error {
	if ms < 0 {
		return fmt.Errorf("%w: paused position cannot be negative", shared.ErrInvalidArgument)
	}

	return r.submit(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE queue_entries SET paused_position_ms = ? WHERE item_id = ?", ms, itemID); err != nil {
			return fmt.Errorf("failed to mark paused position: %w", err)
		}
		return nil
	})
}

// Snapshot returns the committed queue in order.
func (r *QueueRepository) Snapshot(ctx context.Context) ([]models.QueueEntry, error) {
	return queryEntries(ctx, r.db)
}

// Count returns the number of entries in the committed queue.
func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// LastPlayedIndex returns the position of the most recently played entry; ok is false when nothing has been played.
func (r *QueueRepository) LastPlayedIndex(ctx context.Context) (index int, ok bool, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT position FROM queue_entries
		WHERE last_played_at IS NOT NULL
		ORDER BY last_played_at DESC, position ASC
		LIMIT 1
	`).Scan(&index)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find last played entry: %w", err)
	}
	return index, true, nil
}

// Close stops the writer goroutine. Pending callers get [shared.ErrQueueClosed].
func (r *QueueRepository) Close() {
	r.once.Do(func() { close(r.quit) })
	<-r.done
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryEntries(ctx context.Context, q queryer) ([]models.QueueEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT position, item_id, last_played_at, paused_position_ms
		FROM queue_entries
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	entries := []models.QueueEntry{}
	for rows.Next() {
		var (
			e          models.QueueEntry
			lastPlayed sql.NullTime
		)
		if err := rows.Scan(&e.Order, &e.ID, &lastPlayed, &e.PausedPositionMs); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if lastPlayed.Valid {
			t := lastPlayed.Time
			e.LastPlayedAt = &t
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

func writeEntries(ctx context.Context, tx *sql.Tx, entries []models.QueueEntry) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_entries"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queue_entries (position, item_id, last_played_at, paused_position_ms)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare queue insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var lastPlayed any
		if e.LastPlayedAt != nil {
			lastPlayed = *e.LastPlayedAt
		}
		if _, err := stmt.ExecContext(ctx, e.Order, e.ID, lastPlayed, e.PausedPositionMs); err != nil {
			return fmt.Errorf("failed to insert queue entry %d: %w", e.Order, err)
		}
	}
	return nil
}

func validateIDs(ids []string) error {
	if _, blank := lo.Find(ids, func(id string) bool { return id == "" }); blank {
		return fmt.Errorf("%w: queue item id cannot be empty", shared.ErrInvalidArgument)
	}
	return nil
}
