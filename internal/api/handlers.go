package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/videomaps"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// EntryService serves EDST records
type EntryService interface {
	AllEntries(ctx context.Context) ([]*edst.Record, error)
	GetEntry(ctx context.Context, callsign string) (*edst.Record, error)
	UpdateEntry(ctx context.Context, callsign string, patch edst.Patch) (*edst.Record, error)
	ARTCCEntries(ctx context.Context, artcc string) ([]*edst.Record, error)
	Status() edst.Status
}

// BoundaryFiles returns raw ARTCC boundary GeoJSON
type BoundaryFiles interface {
	Raw(artcc string) ([]byte, error)
}

// PassHistory returns recent pass summaries
type PassHistory interface {
	Recent(ctx context.Context, limit int) ([]edst.PassSummary, error)
}

// VideoMapSource looks up vNAS video map ids
type VideoMapSource interface {
	MapIDs(ctx context.Context, artcc, tag string) ([]string, error)
}

// maxPatchBytes bounds PATCH/POST bodies
const maxPatchBytes = 1 << 20

// Handler contains the API handlers
type Handler struct {
	entries    EntryService
	boundaries BoundaryFiles
	passes     PassHistory
	videoMaps  VideoMapSource
	logger     *logger.Logger
}

// NewHandler creates a new API handler. boundaries, passes and videoMaps may
// be nil, in which case their endpoints answer 503.
func NewHandler(entries EntryService, boundaries BoundaryFiles, passes PassHistory, videoMaps VideoMapSource, log *logger.Logger) *Handler {
	return &Handler{
		entries:    entries,
		boundaries: boundaries,
		passes:     passes,
		videoMaps:  videoMaps,
		logger:     log.Named("api-handler"),
	}
}

// GetHealth returns the outcome of the most recent reconciliation pass
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.entries.Status()

	response := map[string]interface{}{
		"status":       "ok",
		"healthy":      status.Healthy,
		"interval":     status.Interval,
		"live_flights": status.LiveFlights,
	}
	if !status.Healthy {
		response["status"] = "degraded"
	}
	if status.LastPass != nil {
		response["last_pass"] = status.LastPass
	}
	if status.LastError != "" {
		response["last_error"] = status.LastError
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetAllEntries returns every record
func (h *Handler) GetAllEntries(w http.ResponseWriter, r *http.Request) {
	records, err := h.entries.AllEntries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

// GetEntry returns the record of one callsign
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	callsign := chi.URLParam(r, "callsign")

	rec, err := h.entries.GetEntry(r.Context(), callsign)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// UpdateEntry applies a JSON patch of annotations to one record
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	callsign := chi.URLParam(r, "callsign")

	var patch edst.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes)).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(patch) == 0 {
		http.Error(w, "Empty patch", http.StatusBadRequest)
		return
	}

	rec, err := h.entries.UpdateEntry(r.Context(), callsign, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Debug("Entry updated",
		logger.String("callsign", rec.Callsign),
		logger.Int("fields", len(patch)))
	WriteJSON(w, http.StatusOK, rec)
}

// GetARTCCEntries returns the live records near an ARTCC
func (h *Handler) GetARTCCEntries(w http.ResponseWriter, r *http.Request) {
	artcc := strings.ToLower(chi.URLParam(r, "artcc"))

	records, err := h.entries.ARTCCEntries(r.Context(), artcc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

// GetBoundary returns the boundary GeoJSON of an ARTCC as stored
func (h *Handler) GetBoundary(w http.ResponseWriter, r *http.Request) {
	if h.boundaries == nil {
		http.Error(w, "Boundaries not configured", http.StatusServiceUnavailable)
		return
	}
	artcc := strings.ToLower(chi.URLParam(r, "artcc"))

	data, err := h.boundaries.Raw(artcc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetPasses returns recent pass summaries, newest first
func (h *Handler) GetPasses(w http.ResponseWriter, r *http.Request) {
	if h.passes == nil {
		http.Error(w, "Pass history not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	passes, err := h.passes.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, passes)
}

// GetTraconMaps returns the TRACON boundary video map ids of an ARTCC
func (h *Handler) GetTraconMaps(w http.ResponseWriter, r *http.Request) {
	h.writeMapIDs(w, r, videomaps.TagTraconBoundary)
}

// GetHighSectorMaps returns the high sector video map ids of an ARTCC
func (h *Handler) GetHighSectorMaps(w http.ResponseWriter, r *http.Request) {
	h.writeMapIDs(w, r, videomaps.TagSectorHigh)
}

// GetLowSectorMaps returns the low sector video map ids of an ARTCC
func (h *Handler) GetLowSectorMaps(w http.ResponseWriter, r *http.Request) {
	h.writeMapIDs(w, r, videomaps.TagSectorLow)
}

func (h *Handler) writeMapIDs(w http.ResponseWriter, r *http.Request, tag string) {
	if h.videoMaps == nil {
		http.Error(w, "Video maps not configured", http.StatusServiceUnavailable)
		return
	}
	artcc := chi.URLParam(r, "artcc")

	ids, err := h.videoMaps.MapIDs(r.Context(), artcc, tag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ids)
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case edst.IsNotFound(err),
		errors.Is(err, navdata.ErrBoundaryNotFound),
		errors.Is(err, videomaps.ErrARTCCNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, edst.ErrInvalidPatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		// client went away
		return
	default:
		h.logger.Error("Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
