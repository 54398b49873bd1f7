package tasks

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
)

func progressEvent(id string, p float64) Event {
	job := models.NewDownloadJob(models.Item{ID: id}, models.QualityMedium, time.Now())
	job.Status = models.JobDownloading
	job.Progress = p
	return jobProgressEvent(job)
}

func TestBroadcaster(t *testing.T) {
	t.Run("delivers to every subscriber", func(t *testing.T) {
		b := NewBroadcaster(10 * time.Millisecond)
		a, unsubA := b.Subscribe(4)
		c, unsubC := b.Subscribe(4)
		defer unsubA()
		defer unsubC()

		b.Publish(queueChangedEvent(nil))

		for _, ch := range []<-chan Event{a, c} {
			select {
			case e := <-ch:
				if e.Kind != QueueChanged {
					t.Errorf("expected %v, got %v", QueueChanged, e.Kind)
				}
			case <-time.After(time.Second):
				t.Fatal("event not delivered")
			}
		}
	})

	t.Run("drops progress for a full subscriber", func(t *testing.T) {
		b := NewBroadcaster(10 * time.Millisecond)
		ch, unsub := b.Subscribe(1)
		defer unsub()

		done := make(chan struct{})
		go func() {
			b.Publish(progressEvent("a", 0.1))
			b.Publish(progressEvent("a", 0.2))
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("progress publish blocked")
		}

		if got := (<-ch).Job.Progress; got != 0.1 {
			t.Errorf("expected first event to survive, got %v", got)
		}
		select {
		case e := <-ch:
			t.Errorf("expected second progress event to be dropped, got %+v", e)
		default:
		}
	})

	t.Run("status publish waits at most the timeout", func(t *testing.T) {
		b := NewBroadcaster(20 * time.Millisecond)
		_, unsub := b.Subscribe(1)
		defer unsub()

		job := models.NewDownloadJob(models.Item{ID: "a"}, models.QualityMedium, time.Now())
		start := time.Now()
		b.Publish(jobStatusEvent(job))
		b.Publish(jobStatusEvent(job))

		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("publish blocked for %v", elapsed)
		}
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		b := NewBroadcaster(0)
		ch, unsub := b.Subscribe(1)
		unsub()
		unsub()

		if _, ok := <-ch; ok {
			t.Error("expected closed channel")
		}
		if n := b.Subscribers(); n != 0 {
			t.Errorf("expected 0 subscribers, got %d", n)
		}
	})

	t.Run("close ends every subscription", func(t *testing.T) {
		b := NewBroadcaster(0)
		ch, unsub := b.Subscribe(1)
		b.Close()
		b.Close()
		unsub()

		if _, ok := <-ch; ok {
			t.Error("expected closed channel")
		}

		late, _ := b.Subscribe(1)
		if _, ok := <-late; ok {
			t.Error("subscribe after close should return a closed channel")
		}

		b.Publish(queueChangedEvent(nil))
	})
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(progressEvent("a", 0.5))
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	for _, want := range []string{`"kind":"job_progress"`, `"item_id":"a"`, `"progress":0.5`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{JobStatusChanged, "job_status"},
		{JobProgress, "job_progress"},
		{QueueChanged, "queue_changed"},
		{TrackRemoved, "track_removed"},
		{EventKind(99), ""},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
