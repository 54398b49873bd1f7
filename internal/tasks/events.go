package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// EventKind enumerates what an [Event] reports.
type EventKind int

const (
	JobStatusChanged EventKind = iota
	JobProgress
	QueueChanged
	TrackRemoved
)

func (k EventKind) String() string {
	switch k {
	case JobStatusChanged:
		return "job_status"
	case JobProgress:
		return "job_progress"
	case QueueChanged:
		return "queue_changed"
	case TrackRemoved:
		return "track_removed"
	default:
		return ""
	}
}

// MarshalText encodes the kind by name for JSON consumers.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a state change delivered to subscribers.
//
// Job and Queue are copies; subscribers may keep them.
type Event struct {
	Kind    EventKind           `json:"kind"`
	ItemID  string              `json:"item_id,omitempty"`
	Job     *models.DownloadJob `json:"job,omitempty"`
	Queue   []models.QueueEntry `json:"queue,omitempty"`
	Message string              `json:"message,omitempty"`
	At      time.Time           `json:"at"`
}

func jobStatusEvent(job *models.DownloadJob) Event {
	msg := fmt.Sprintf("%s: %s", job.Metadata.DisplayName(), job.Status)
	if job.ErrorMessage != "" {
		msg += ": " + job.ErrorMessage
	}
	return Event{Kind: JobStatusChanged, ItemID: job.ItemID, Job: job.Clone(), Message: msg, At: job.UpdatedAt}
}

func jobProgressEvent(job *models.DownloadJob) Event {
	return Event{
		Kind:    JobProgress,
		ItemID:  job.ItemID,
		Job:     job.Clone(),
		Message: fmt.Sprintf("%s: %.0f%%", job.Metadata.DisplayName(), job.Progress*100),
		At:      job.UpdatedAt,
	}
}

func queueChangedEvent(entries []models.QueueEntry) Event {
	return Event{
		Kind:    QueueChanged,
		Queue:   append([]models.QueueEntry{}, entries...),
		Message: fmt.Sprintf("queue has %d entries", len(entries)),
		At:      time.Now(),
	}
}

func trackRemovedEvent(itemID, reason string) Event {
	return Event{Kind: TrackRemoved, ItemID: itemID, Message: reason, At: time.Now()}
}

// Broadcaster fans events out to subscribers.
//
// Progress events are dropped for a subscriber whose buffer is full. Every other kind waits up to
// statusTimeout per subscriber, so a stalled reader delays publishers by a bounded amount.
type Broadcaster struct {
	mu            sync.RWMutex
	subs          map[string]chan Event
	statusTimeout time.Duration
	closed        bool
}

// NewBroadcaster creates a Broadcaster. A non-positive timeout defaults to 100ms.
func NewBroadcaster(statusTimeout time.Duration) *Broadcaster {
	if statusTimeout <= 0 {
		statusTimeout = 100 * time.Millisecond
	}
	return &Broadcaster{subs: make(map[string]chan Event), statusTimeout: statusTimeout}
}

// Subscribe registers a subscriber with the given buffer size and returns its channel and an unsubscribe func.
// The channel is closed on unsubscribe or [Broadcaster.Close].
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := shared.GenerateID()
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		if e.Kind == JobProgress {
			sendProgress(ch, e)
			continue
		}

		timer := time.NewTimer(b.statusTimeout)
		select {
		case ch <- e:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// sendProgress sends an event through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(ch chan<- Event, e Event) {
	select {
	case ch <- e:
	default:
	}
}
