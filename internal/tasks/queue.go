package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/crate/internal/models"
)

// Queue mutations go through the coordinator so that the player and subscribers see every committed queue
// in commit order. queueMu spans the write and the notification.

// ReplaceQueue replaces the queue with ids and stamps startIndex as last played when it is in range.
func (c *Coordinator) ReplaceQueue(ctx context.Context, ids []string, startIndex int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.Replace(ctx, ids, startIndex)
	})
}

// InsertAt inserts id at afterIndex. With reset the queue becomes just id.
func (c *Coordinator) InsertAt(ctx context.Context, id string, reset bool, afterIndex int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.InsertAt(ctx, id, reset, afterIndex)
	})
}

// InsertAllAt inserts ids in order starting at afterIndex.
func (c *Coordinator) InsertAllAt(ctx context.Context, ids []string, reset bool, afterIndex int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.InsertAllAt(ctx, ids, reset, afterIndex)
	})
}

// RemoveAt drops the entry at index.
func (c *Coordinator) RemoveAt(ctx context.Context, index int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.RemoveAt(ctx, index)
	})
}

// RemoveRange drops entries in [from, to).
func (c *Coordinator) RemoveRange(ctx context.Context, from, to int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.RemoveRange(ctx, from, to)
	})
}

// Swap moves the entry at from to position to.
func (c *Coordinator) Swap(ctx context.Context, from, to int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.Swap(ctx, from, to)
	})
}

// Shuffle randomizes the queue, keeping keepIndex at the front when it is in range.
func (c *Coordinator) Shuffle(ctx context.Context, keepIndex int) ([]models.QueueEntry, error) {
	return c.mutateQueue(func() ([]models.QueueEntry, error) {
		return c.store.Queue.Shuffle(ctx, keepIndex)
	})
}

// ClearQueue empties the queue.
func (c *Coordinator) ClearQueue(ctx context.Context) error {
	_, err := c.mutateQueue(func() ([]models.QueueEntry, error) {
		return nil, c.store.Queue.Clear(ctx)
	})
	return err
}

// MarkLastPlayed records playback of itemID. The player is not notified; ordering does not change.
func (c *Coordinator) MarkLastPlayed(ctx context.Context, itemID string, at time.Time) error {
	return c.store.Queue.MarkLastPlayed(ctx, itemID, at)
}

// MarkPausedPosition records where playback of itemID stopped.
func (c *Coordinator) MarkPausedPosition(ctx context.Context, itemID string, ms int64) error {
	return c.store.Queue.MarkPausedPosition(ctx, itemID, ms)
}

// Queue returns the committed queue.
func (c *Coordinator) Queue(ctx context.Context) ([]models.QueueEntry, error) {
	return c.store.Queue.Snapshot(ctx)
}

func (c *Coordinator) mutateQueue(fn func() ([]models.QueueEntry, error)) ([]models.QueueEntry, error) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	entries, err := fn()
	if err != nil {
		return nil, err
	}

	c.playerMu.RLock()
	player := c.player
	c.playerMu.RUnlock()

	if player != nil {
		player.QueueChanged(entries)
	}
	c.events.Publish(queueChangedEvent(entries))
	return entries, nil
}
