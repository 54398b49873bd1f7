package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	tu "github.com/desertthunder/crate/internal/testing"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	srv     *httptest.Server
	c       *tasks.Coordinator
	fetcher *tu.MockFetcher
	player  *tu.MockPlayer
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := shared.NewLogger(io.Discard)
	store := repositories.NewStore(db, nil, logger)
	t.Cleanup(store.Close)

	dir := t.TempDir()
	fetcher := tu.NewMockFetcher()
	player := &tu.MockPlayer{}
	c := tasks.NewCoordinator(store, fetcher, tasks.Config{
		MediaDir:         filepath.Join(dir, "media"),
		CoverDir:         filepath.Join(dir, "covers"),
		ProgressInterval: time.Millisecond,
		Resume:           true,
	}, tasks.WithLogger(logger), tasks.WithPlayer(player))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger))
	NewAPI(c, logger).Register(router)
	router.Handler(NewEventsHandler(c, true, logger))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, c: c, fetcher: fetcher, player: player}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeQueue(t *testing.T, data []byte) []string {
	t.Helper()
	var entries []models.QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("failed to decode queue %s: %v", data, err)
	}
	return models.EntryIDs(entries)
}

func TestBasicRouter(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	r := NewBasicRouter()
	r.Use(mark("outer"), mark("inner"))
	r.HandleFunc(http.MethodGet, "/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(req.PathValue("id")))
	})

	t.Run("routes with path values through middleware in order", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))

		if rec.Body.String() != "42" {
			t.Errorf("expected 42, got %q", rec.Body.String())
		}
		if strings.Join(order, ",") != "outer,inner" {
			t.Errorf("unexpected middleware order: %v", order)
		}
	})

	t.Run("rejects other methods", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things/42", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("recover turns panics into 500", func(t *testing.T) {
		pr := NewBasicRouter()
		pr.Use(Recover(shared.NewLogger(io.Discard)))
		pr.HandleFunc(http.MethodGet, "/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

		rec := httptest.NewRecorder()
		pr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestQueueAPI(t *testing.T) {
	env := setupServer(t)

	resp, data := env.do(t, http.MethodPut, "/api/queue", QueueRequest{IDs: []string{"a", "b", "c", "d"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace failed: %d %s", resp.StatusCode, data)
	}

	_, data = env.do(t, http.MethodPost, "/api/queue/items", QueueRequest{IDs: []string{"x"}, AfterIndex: 2})
	if got := strings.Join(decodeQueue(t, data), ","); got != "a,b,x,c,d" {
		t.Errorf("after insert got %s", got)
	}

	_, data = env.do(t, http.MethodPost, "/api/queue/move", QueueRequest{From: 0, To: 4})
	if got := strings.Join(decodeQueue(t, data), ","); got != "b,x,c,d,a" {
		t.Errorf("after move got %s", got)
	}

	_, data = env.do(t, http.MethodDelete, "/api/queue/items/1?to=3", nil)
	if got := strings.Join(decodeQueue(t, data), ","); got != "b,d,a" {
		t.Errorf("after range removal got %s", got)
	}

	_, data = env.do(t, http.MethodDelete, "/api/queue/items/0", nil)
	if got := strings.Join(decodeQueue(t, data), ","); got != "d,a" {
		t.Errorf("after removal got %s", got)
	}

	keep := 1
	_, data = env.do(t, http.MethodPost, "/api/queue/shuffle", QueueRequest{KeepIndex: &keep})
	if got := decodeQueue(t, data); len(got) != 2 || got[0] != "a" {
		t.Errorf("shuffle should keep a in front, got %v", got)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/queue/items/nope", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad index, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/queue", map[string]any{"bogus": true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", resp.StatusCode)
	}

	env.do(t, http.MethodDelete, "/api/queue", nil)
	_, data = env.do(t, http.MethodGet, "/api/queue", nil)
	if got := decodeQueue(t, data); len(got) != 0 {
		t.Errorf("expected empty queue, got %v", got)
	}

	if env.player.Calls() < 6 {
		t.Errorf("expected the player to follow every mutation, got %d calls", env.player.Calls())
	}
}

func TestJobsAPI(t *testing.T) {
	env := setupServer(t)
	env.fetcher.Set("track1", bytes.Repeat([]byte("x"), 300))

	resp, data := env.do(t, http.MethodPost, "/api/jobs", DownloadRequest{
		ItemID:   "track1",
		Quality:  "high",
		Metadata: &models.Item{Title: "Song", Artist: "Band"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", resp.StatusCode, data)
	}

	var job models.DownloadJob
	json.Unmarshal(data, &job)
	if job.ItemID != "track1" || job.Quality != models.QualityHigh {
		t.Errorf("unexpected job: %+v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, data = env.do(t, http.MethodGet, "/api/jobs/track1", nil)
		json.Unmarshal(data, &job)
		if job.Status == models.JobCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("job never completed: %+v", job)
	}

	_, data = env.do(t, http.MethodGet, "/api/offline", nil)
	var tracks []models.OfflineTrack
	json.Unmarshal(data, &tracks)
	if len(tracks) != 1 || tracks[0].Title != "Song" {
		t.Errorf("unexpected catalog: %s", data)
	}

	_, data = env.do(t, http.MethodGet, "/api/offline/stats", nil)
	var stats repositories.StorageStats
	json.Unmarshal(data, &stats)
	if stats.Tracks != 1 || stats.TotalBytes != 300 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	_, data = env.do(t, http.MethodGet, "/api/jobs?active=true", nil)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected no active jobs, got %s", data)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown job", http.MethodGet, "/api/jobs/missing", nil, http.StatusNotFound},
		{"bad quality", http.MethodPost, "/api/jobs", DownloadRequest{ItemID: "x", Quality: "ultra"}, http.StatusBadRequest},
		{"missing metadata", http.MethodPost, "/api/jobs", DownloadRequest{ItemID: "x"}, http.StatusBadRequest},
		{"retry completed job", http.MethodPost, "/api/jobs/track1/retry", nil, http.StatusBadRequest},
		{"cancel unknown job", http.MethodDelete, "/api/jobs/missing", nil, http.StatusNoContent},
		{"unknown track", http.MethodGet, "/api/offline/missing", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d %s", tt.want, resp.StatusCode, data)
			}
		})
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/offline/track1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on remove, got %d", resp.StatusCode)
	}

	_, data = env.do(t, http.MethodPost, "/api/offline/verify", nil)
	if !strings.Contains(string(data), `"removed":[]`) {
		t.Errorf("unexpected verify response: %s", data)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/offline", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on clear, got %d", resp.StatusCode)
	}
}

func TestEventsHandler(t *testing.T) {
	env := setupServer(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := env.c.ReplaceQueue(context.Background(), []string{"a", "b"}, 0); err != nil {
		t.Fatalf("ReplaceQueue failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg["kind"] != "queue_changed" {
		t.Errorf("expected queue_changed, got %v", msg)
	}

	queue, ok := msg["queue"].([]any)
	if !ok || len(queue) != 2 {
		t.Errorf("expected two queue entries, got %v", msg["queue"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrJobNotFound, http.StatusNotFound},
		{shared.ErrTrackNotFound, http.StatusNotFound},
		{shared.ErrInvalidArgument, http.StatusBadRequest},
		{shared.ErrInvalidQuality, http.StatusBadRequest},
		{shared.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{shared.ErrLocked, http.StatusConflict},
		{io.EOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
