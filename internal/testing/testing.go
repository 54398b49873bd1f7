// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// MockFetcher is a test double for [services.Fetcher] serving in-memory bytes.
//
// When Gate is non-nil, body reads past BlockAfter bytes wait until Gate is closed or the fetch context ends.
type MockFetcher struct {
	Gate       chan struct{}
	BlockAfter int
	ChunkSize  int
	NoResume   bool
	HideLength bool

	// RejectRanges makes any Fetch with a positive offset fail with [shared.ErrRangeNotSatisfiable].
	RejectRanges bool

	// Started receives the item id each time Fetch is called, when non-nil (non-blocking send).
	Started chan string

	mu        sync.Mutex
	data      map[string][]byte
	errs      map[string]error
	failAfter map[string]int
	calls     map[string]int
	offsets   map[string][]int64
}

var _ services.Fetcher = (*MockFetcher)(nil)

// NewMockFetcher creates an empty fetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		ChunkSize: 64,
		data:      make(map[string][]byte),
		errs:      make(map[string]error),
		failAfter: make(map[string]int),
		calls:     make(map[string]int),
		offsets:   make(map[string][]int64),
	}
}

// Set registers the bytes served for id.
func (m *MockFetcher) Set(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
}

// SetError makes Fetch for id fail immediately.
func (m *MockFetcher) SetError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id] = err
}

// FailAfter makes the body for id return an error once n bytes have been read.
func (m *MockFetcher) FailAfter(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter[id] = n
}

// Calls returns how many times Fetch was called for id.
func (m *MockFetcher) Calls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// Offsets returns the offsets requested for id in call order.
func (m *MockFetcher) Offsets(id string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.offsets[id]...)
}

func (m *MockFetcher) Fetch(ctx context.Context, itemID string, _ models.Quality, offset int64) (*services.Stream, error) {
	m.mu.Lock()
	m.calls[itemID]++
	m.offsets[itemID] = append(m.offsets[itemID], offset)
	data, ok := m.data[itemID]
	err := m.errs[itemID]
	failAfter, fails := m.failAfter[itemID]
	m.mu.Unlock()

	if m.Started != nil {
		select {
		case m.Started <- itemID:
		default:
		}
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, itemID)
	}
	if m.RejectRanges && offset > 0 {
		return nil, fmt.Errorf("%w: bytes */%d", shared.ErrRangeNotSatisfiable, len(data))
	}

	start := int(offset)
	if m.NoResume || start < 0 || start > len(data) {
		start = 0
	}

	r := &mockBody{
		ctx:        ctx,
		gate:       m.Gate,
		blockAfter: m.BlockAfter,
		chunk:      max(m.ChunkSize, 1),
		data:       data,
		pos:        start,
		failAfter:  -1,
	}
	if fails {
		r.failAfter = failAfter
	}

	stream := &services.Stream{Body: r, Offset: int64(start)}
	if !m.HideLength {
		stream.ContentLength = int64(len(data))
	}
	return stream, nil
}

type mockBody struct {
	ctx        context.Context
	gate       chan struct{}
	blockAfter int
	chunk      int
	data       []byte
	pos        int
	failAfter  int
}

func (b *mockBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if b.gate != nil && b.pos >= b.blockAfter {
		select {
		case <-b.gate:
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	if b.failAfter >= 0 && b.pos >= b.failAfter {
		return 0, errors.New("connection reset by peer")
	}
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}

	n := min(len(p), b.chunk, len(b.data)-b.pos)
	if b.gate != nil && b.pos < b.blockAfter {
		n = min(n, b.blockAfter-b.pos)
	}
	if b.failAfter >= 0 {
		n = min(n, b.failAfter-b.pos)
	}
	copy(p, b.data[b.pos:b.pos+n])
	b.pos += n
	return n, nil
}

func (b *mockBody) Close() error { return nil }

// MockDescriber is a test double for [services.Describer].
type MockDescriber struct {
	Items map[string]models.Item
}

var _ services.Describer = (*MockDescriber)(nil)

func (m *MockDescriber) DescribeItem(_ context.Context, itemID string) (*models.Item, error) {
	item, ok := m.Items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, itemID)
	}
	return &item, nil
}

// MockCoverFetcher is a test double for [services.CoverFetcher].
type MockCoverFetcher struct {
	Data []byte
	Ext  string
	Err  error
}

var _ services.CoverFetcher = (*MockCoverFetcher)(nil)

func (m *MockCoverFetcher) FetchCover(_ context.Context, _ models.Item) (*services.Cover, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &services.Cover{Body: io.NopCloser(bytes.NewReader(m.Data)), Ext: m.Ext}, nil
}

// MockPlayer is a test double for [services.Player] recording every queue it receives.
type MockPlayer struct {
	mu     sync.Mutex
	queues [][]models.QueueEntry
}

var _ services.Player = (*MockPlayer)(nil)

func (m *MockPlayer) QueueChanged(entries []models.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = append(m.queues, append([]models.QueueEntry(nil), entries...))
}

// Calls returns the number of notifications received.
func (m *MockPlayer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// Last returns the most recent queue received.
func (m *MockPlayer) Last() []models.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queues) == 0 {
		return nil
	}
	return m.queues[len(m.queues)-1]
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

// AssertNoPrefix fails when any file in dir starts with prefix. A missing dir passes.
func AssertNoPrefix(t *testing.T, dir, prefix string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		t.Fatalf("Failed to read directory %s: %v", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			t.Errorf("Unexpected file %s", filepath.Join(dir, e.Name()))
		}
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
