package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datebook/internal/event"
	"datebook/internal/ics"
	"datebook/internal/metrics"
	"datebook/internal/storage"
	"datebook/internal/store"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store   *store.Store
	storage *storage.Manager
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(st *store.Store, sm *storage.Manager) http.Handler {
	h := &Handler{store: st, storage: sm, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.createEvent)
	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("PATCH /v1/events/{id}", h.updateEvent)
	h.mux.HandleFunc("DELETE /v1/events/{id}", h.deleteEvent)
	h.mux.HandleFunc("GET /v1/stats", h.stats)
	h.mux.HandleFunc("GET /v1/export", h.exportJSON)
	h.mux.HandleFunc("POST /v1/import", h.importJSON)
	h.mux.HandleFunc("GET /v1/export.ics", h.exportICS)
	h.mux.HandleFunc("POST /v1/import.ics", h.importICS)
	h.mux.HandleFunc("GET /v1/backup", h.backup)
	h.mux.HandleFunc("POST /v1/restore", h.restore)
	h.mux.HandleFunc("GET /v1/storage", h.storageInfo)
	h.mux.HandleFunc("DELETE /v1/storage", h.storageClear)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/events — create one event.
func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var raw event.Event
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	e, err := h.store.Create(raw)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GET /v1/events — list with optional ?date=, ?from=&to=, ?category=, ?q=.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("date") != "":
		writeJSON(w, http.StatusOK, h.store.GetByDate(q.Get("date")))
	case q.Get("from") != "" || q.Get("to") != "":
		events, err := h.store.GetByDateRange(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
	case q.Get("category") != "":
		writeJSON(w, http.StatusOK, h.store.GetByCategory(q.Get("category")))
	case q.Has("q"):
		writeJSON(w, http.StatusOK, h.store.Search(q.Get("q")))
	default:
		writeJSON(w, http.StatusOK, h.store.GetAll())
	}
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetByID(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// PATCH /v1/events/{id} — partial update; unknown fields are rejected.
func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var p event.Patch
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid patch: %s", err))
		return
	}
	e, err := h.store.Update(r.PathValue("id"), p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DELETE /v1/events/{id}
func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// GET /v1/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Statistics())
}

// GET /v1/export — the store's JSON export shape.
func (h *Handler) exportJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ExportJSON())
}

// POST /v1/import — best-effort bulk import of an export payload.
func (h *Handler) importJSON(w http.ResponseWriter, r *http.Request) {
	var data store.Export
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, h.store.ImportJSON(&data))
}

// GET /v1/export.ics
func (h *Handler) exportICS(w http.ResponseWriter, r *http.Request) {
	payload, err := ics.Export(h.store.GetAll())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="datebook.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

// POST /v1/import.ics — parse VEVENTs and create them best-effort.
func (h *Handler) importICS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %s", err))
		return
	}
	records, err := ics.Import(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data := &store.Export{}
	for i := range records {
		data.Events = append(data.Events, &records[i])
	}
	writeJSON(w, http.StatusOK, h.store.ImportJSON(data))
}

// GET /v1/backup — downloadable backup artifact.
func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	payload, err := h.storage.CreateBackup()
	if err != nil {
		metrics.BackupsCreated.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.BackupsCreated.WithLabelValues("success").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="datebook-backup.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

// POST /v1/restore — upload a backup file, then rebuild the store from it.
func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.ImportBackupFile(r.Context(), r.Body); err != nil {
		var mbe *storage.MalformedBackupError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	warnings, err := h.store.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"restored": true,
		"warnings": warnings,
	})
}

// GET /v1/storage — usage and availability.
func (h *Handler) storageInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.storage.GetInfo())
}

// DELETE /v1/storage — clear persisted data; the in-memory session keeps its
// events until restart.
func (h *Handler) storageClear(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 when durable storage is unavailable: the calendar still
// works but changes only last the session.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if !h.storage.Supported() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage-unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
