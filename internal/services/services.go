// package services defines the collaborator contracts the download pipeline consumes
//
// and an HTTP implementation against a remote music server.
package services

import (
	"context"
	"io"

	"github.com/desertthunder/crate/internal/models"
)

// Stream is an open media body returned by a [Fetcher].
type Stream struct {
	Body io.ReadCloser

	// ContentLength is the total size of the media in bytes (not just this body), 0 when unknown.
	ContentLength int64

	// Offset is the byte position Body starts at. It is 0 when the server ignored a range request.
	Offset int64

	ContentType string
}

// Fetcher opens a byte stream for an item at a quality.
//
// The body may be compressed regardless of what the headers say; the normalizer deals with that later.
type Fetcher interface {
	// Fetch opens the stream starting at offset. Implementations that cannot resume return Offset 0.
	Fetch(ctx context.Context, itemID string, quality models.Quality, offset int64) (*Stream, error)
}

// Describer resolves an item id into descriptive metadata.
type Describer interface {
	DescribeItem(ctx context.Context, itemID string) (*models.Item, error)
}

// Cover is an open cover image body.
type Cover struct {
	Body io.ReadCloser
	Ext  string // file extension without a dot, e.g. "jpg"
}

// CoverFetcher downloads cover art for an item.
type CoverFetcher interface {
	FetchCover(ctx context.Context, item models.Item) (*Cover, error)
}

// Player is the live playback engine the queue is mirrored into.
type Player interface {
	// QueueChanged receives the committed queue after every mutation.
	QueueChanged(entries []models.QueueEntry)
}

// PlayerFunc adapts a function to [Player].
type PlayerFunc func(entries []models.QueueEntry)

// QueueChanged calls f(entries).
func (f PlayerFunc) QueueChanged(entries []models.QueueEntry) {
	f(entries)
}
