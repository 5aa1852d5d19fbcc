package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vod2live/internal/hlsvod"
	"vod2live/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes orchestrator HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// MasterPlaylist handles GET /master.m3u8. Every request starts a new
// session; the session is encoded in the variant URIs.
func (h *Handler) MasterPlaylist(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
	}
	h.log.Info("session created", slog.String("session_id", string(sess.ID)))

	m3u8, err := h.svc.MasterPlaylist(r.Context(), sess.ID)
	if err != nil {
		h.writeError(w, sess.ID, err)
		return
	}
	h.writePlaylist(w, metrics.ManifestMaster, m3u8)
}

// MediaPlaylist handles GET /sessions/{session_id}/renditions/{bandwidth}/playlist.m3u8.
func (h *Handler) MediaPlaylist(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	bw := hlsvod.Bandwidth(chi.URLParam(r, "bandwidth"))
	if id == "" || bw == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m3u8, err := h.svc.MediaPlaylist(r.Context(), id, bw)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	h.writePlaylist(w, metrics.ManifestMedia, m3u8)
}

// SessionStatus handles GET /sessions/{session_id}.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, err := h.svc.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(st); err != nil {
		h.log.Debug("write status failed", slog.String("error", err.Error()))
	}
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.EndSession(r.Context(), id); err != nil {
		h.writeError(w, id, err)
		return
	}
	h.log.Info("session ended", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (h *Handler) writePlaylist(w http.ResponseWriter, kind, m3u8 string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
	if h.metrics != nil {
		h.metrics.IncManifestsServed(kind)
	}
}

// writeError maps service errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, id SessionID, err error) {
	attrs := []any{slog.String("session_id", string(id)), slog.String("error", err.Error())}

	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, hlsvod.ErrInvalidBandwidth):
		h.log.Debug("not found", attrs...)
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, hlsvod.ErrIndexOutOfRange), errors.Is(err, hlsvod.ErrInvalidState):
		h.log.Info("request conflicts with asset state", attrs...)
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, hlsvod.ErrFetch),
		errors.Is(err, hlsvod.ErrMalformedPlaylist),
		errors.Is(err, hlsvod.ErrRenditionMismatch):
		h.log.Error("asset load failed", attrs...)
		w.WriteHeader(http.StatusBadGateway)
	default:
		h.log.Error("request failed", attrs...)
		w.WriteHeader(http.StatusInternalServerError)
	}
}
