package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
)

type errorBody struct {
	Error string `json:"error"`
}

// DownloadRequest is the body of POST /api/jobs.
type DownloadRequest struct {
	ItemID   string       `json:"item_id"`
	Quality  string       `json:"quality,omitempty"`
	Metadata *models.Item `json:"metadata,omitempty"`
}

// QueueRequest carries the arguments of every queue mutation. Unused fields are ignored.
type QueueRequest struct {
	IDs        []string `json:"ids,omitempty"`
	StartIndex int      `json:"start_index,omitempty"`
	AfterIndex int      `json:"after_index,omitempty"`
	Reset      bool     `json:"reset,omitempty"`
	From       int      `json:"from,omitempty"`
	To         int      `json:"to,omitempty"`
	KeepIndex  *int     `json:"keep_index,omitempty"`
}

// API serves JSON endpoints over a [tasks.Coordinator].
type API struct {
	c      *tasks.Coordinator
	logger *log.Logger
}

// NewAPI creates the API.
func NewAPI(c *tasks.Coordinator, logger *log.Logger) *API {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &API{c: c, logger: shared.WithLogger(logger, "component", "api")}
}

// Register adds every endpoint to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/api/health", http.HandlerFunc(a.health))

	r.Handle(http.MethodGet, "/api/queue", http.HandlerFunc(a.getQueue))
	r.Handle(http.MethodPut, "/api/queue", http.HandlerFunc(a.replaceQueue))
	r.Handle(http.MethodDelete, "/api/queue", http.HandlerFunc(a.clearQueue))
	r.Handle(http.MethodPost, "/api/queue/items", http.HandlerFunc(a.insertItems))
	r.Handle(http.MethodDelete, "/api/queue/items/{index}", http.HandlerFunc(a.removeItems))
	r.Handle(http.MethodPost, "/api/queue/move", http.HandlerFunc(a.moveItem))
	r.Handle(http.MethodPost, "/api/queue/shuffle", http.HandlerFunc(a.shuffleQueue))

	r.Handle(http.MethodGet, "/api/jobs", http.HandlerFunc(a.listJobs))
	r.Handle(http.MethodPost, "/api/jobs", http.HandlerFunc(a.requestDownload))
	r.Handle(http.MethodGet, "/api/jobs/{id}", http.HandlerFunc(a.getJob))
	r.Handle(http.MethodDelete, "/api/jobs/{id}", http.HandlerFunc(a.cancelJob))
	r.Handle(http.MethodPost, "/api/jobs/{id}/retry", http.HandlerFunc(a.retryJob))

	r.Handle(http.MethodGet, "/api/offline", http.HandlerFunc(a.listOffline))
	r.Handle(http.MethodDelete, "/api/offline", http.HandlerFunc(a.clearOffline))
	r.Handle(http.MethodGet, "/api/offline/stats", http.HandlerFunc(a.offlineStats))
	r.Handle(http.MethodPost, "/api/offline/verify", http.HandlerFunc(a.verifyOffline))
	r.Handle(http.MethodGet, "/api/offline/{id}", http.HandlerFunc(a.getOffline))
	r.Handle(http.MethodDelete, "/api/offline/{id}", http.HandlerFunc(a.removeOffline))
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_jobs": len(a.c.ListActive())})
}

func (a *API) getQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := a.c.Queue(r.Context())
	a.respond(w, http.StatusOK, entries, err)
}

func (a *API) replaceQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if !a.decode(w, r, &req) {
		return
	}
	entries, err := a.c.ReplaceQueue(r.Context(), req.IDs, req.StartIndex)
	a.respond(w, http.StatusOK, entries, err)
}

func (a *API) clearQueue(w http.ResponseWriter, r *http.Request) {
	err := a.c.ClearQueue(r.Context())
	a.respond(w, http.StatusOK, []models.QueueEntry{}, err)
}

func (a *API) insertItems(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if !a.decode(w, r, &req) {
		return
	}
	entries, err := a.c.InsertAllAt(r.Context(), req.IDs, req.Reset, req.AfterIndex)
	a.respond(w, http.StatusOK, entries, err)
}

// removeItems deletes the entry at {index}, or [index, to) when ?to= is given.
func (a *API) removeItems(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		a.fail(w, fmt.Errorf("%w: index must be an integer", shared.ErrInvalidArgument))
		return
	}

	to := index + 1
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = strconv.Atoi(raw); err != nil {
			a.fail(w, fmt.Errorf("%w: to must be an integer", shared.ErrInvalidArgument))
			return
		}
	}

	entries, err := a.c.RemoveRange(r.Context(), index, to)
	a.respond(w, http.StatusOK, entries, err)
}

func (a *API) moveItem(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if !a.decode(w, r, &req) {
		return
	}
	entries, err := a.c.Swap(r.Context(), req.From, req.To)
	a.respond(w, http.StatusOK, entries, err)
}

func (a *API) shuffleQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	keep := -1
	if req.KeepIndex != nil {
		keep = *req.KeepIndex
	}
	entries, err := a.c.Shuffle(r.Context(), keep)
	a.respond(w, http.StatusOK, entries, err)
}

// listJobs returns every job, or only active ones with ?active=true.
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		writeJSON(w, http.StatusOK, a.c.ListActive())
		return
	}
	writeJSON(w, http.StatusOK, a.c.ListJobs())
}

func (a *API) requestDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if !a.decode(w, r, &req) {
		return
	}

	var quality models.Quality
	if req.Quality != "" {
		q, err := models.ParseQuality(req.Quality)
		if err != nil {
			a.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidQuality, err))
			return
		}
		quality = q
	}

	job, err := a.c.RequestDownload(r.Context(), req.ItemID, req.Metadata, quality)
	a.respond(w, http.StatusAccepted, job, err)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := a.c.Progress(r.Context(), id)
	if !ok {
		a.fail(w, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	if err := a.c.CancelDownload(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.c.Retry(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusAccepted, job, err)
}

func (a *API) listOffline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tracks, err := a.c.OfflineTracks(r.Context(), q.Get("artist"), q.Get("album"))
	if tracks == nil {
		tracks = []*models.OfflineTrack{}
	}
	a.respond(w, http.StatusOK, tracks, err)
}

func (a *API) getOffline(w http.ResponseWriter, r *http.Request) {
	track, err := a.c.OfflineTrack(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, track, err)
}

func (a *API) offlineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.c.Stats(r.Context())
	a.respond(w, http.StatusOK, stats, err)
}

func (a *API) verifyOffline(w http.ResponseWriter, r *http.Request) {
	removed, err := a.c.VerifyIntegrity(r.Context())
	if removed == nil {
		removed = []string{}
	}
	a.respond(w, http.StatusOK, map[string]any{"removed": removed}, err)
}

func (a *API) removeOffline(w http.ResponseWriter, r *http.Request) {
	if err := a.c.RemoveOfflineTrack(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearOffline(w http.ResponseWriter, r *http.Request) {
	if err := a.c.ClearAll(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.fail(w, fmt.Errorf("%w: invalid JSON body: %v", shared.ErrInvalidInput, err))
		return false
	}
	return true
}

func (a *API) respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, status, v)
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// StatusFor maps a pipeline error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrJobNotFound),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidQuality):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrLocked):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
