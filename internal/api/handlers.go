package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/maps"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/internal/websocket"
	"github.com/yegors/stationmap/pkg/logger"
)

// StationCache is the cache surface the API needs
type StationCache interface {
	Get(ctx context.Context, kind synoptic.Kind) (stations.Table, error)
	Refresh(ctx context.Context, kind synoptic.Kind) (stations.Table, error)
	Invalidate(ctx context.Context, kind synoptic.Kind) error
	Status(ctx context.Context, kind synoptic.Kind) (stations.Status, error)
}

// Renderer draws a station table
type Renderer interface {
	Render(w io.Writer, table stations.Table) error
}

// Handler contains the API handlers
type Handler struct {
	cache     StationCache
	htmlMap   Renderer
	pngMap    Renderer
	wsServer  *websocket.Server
	config    *config.Config
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(cache StationCache, htmlMap, pngMap Renderer, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		cache:     cache,
		htmlMap:   htmlMap,
		pngMap:    pngMap,
		wsServer:  wsServer,
		config:    cfg,
		logger:    log.Named("api-handler"),
		startedAt: time.Now(),
	}
}

// tableResponse is the JSON shape of a station table
type tableResponse struct {
	Kind    synoptic.Kind  `json:"kind"`
	Columns []string       `json:"columns"`
	Count   int            `json:"count"`
	Rows    []stations.Row `json:"rows"`
}

func newTableResponse(t stations.Table) tableResponse {
	rows := t.Rows
	if rows == nil {
		rows = []stations.Row{}
	}
	return tableResponse{Kind: t.Kind, Columns: t.Columns(), Count: len(rows), Rows: rows}
}

// GetHealth returns the health status of the API and the cache state of every kind
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	caches := make(map[string]stations.Status, len(synoptic.Kinds()))
	for _, kind := range synoptic.Kinds() {
		status, err := h.cache.Status(r.Context(), kind)
		if err != nil {
			h.logger.Warn("Failed to read cache status",
				logger.String("kind", string(kind)),
				logger.Error(err))
			continue
		}
		caches[string(kind)] = status
	}

	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"caches":         caches,
	}
	if h.wsServer != nil {
		response["websocket_clients"] = h.wsServer.ClientCount()
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetStations returns the normalized table for a kind.
// An optional bbox=minLat,minLon,maxLat,maxLon query narrows the rows.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}

	table, err := h.cache.Get(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if bbox := r.URL.Query().Get("bbox"); bbox != "" {
		keep, err := parseBBox(bbox)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		table = table.Filter(keep)
	}

	WriteJSON(w, http.StatusOK, newTableResponse(table))
}

// GetStation returns one row of a kind's table
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	stationID := chi.URLParam(r, "stationID")

	table, err := h.cache.Get(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	row, found := table.Find(stationID)
	if !found {
		WriteJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("station %s not found in %s table", stationID, kind)})
		return
	}

	WriteJSON(w, http.StatusOK, row)
}

// GetCacheStatus reports the cache artifact of a kind
func (h *Handler) GetCacheStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}

	status, err := h.cache.Status(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// RefreshCache refetches a kind and notifies websocket clients
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}

	table, err := h.cache.Refresh(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.wsServer != nil {
		h.wsServer.StationsUpdated(string(kind), table.Len())
	}

	status, err := h.cache.Status(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// InvalidateCache removes a kind's artifact
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}

	if err := h.cache.Invalidate(r.Context(), kind); err != nil {
		h.writeError(w, err)
		return
	}

	if h.wsServer != nil {
		h.wsServer.CacheInvalidated(string(kind))
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMap renders /maps/<kind>.html or /maps/<kind>.png from the cached table
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	name, ext, ok := strings.Cut(chi.URLParam(r, "file"), ".")
	if !ok {
		http.NotFound(w, r)
		return
	}

	var renderer Renderer
	var contentType string
	switch ext {
	case "html":
		renderer, contentType = h.htmlMap, "text/html; charset=utf-8"
	case "png":
		renderer, contentType = h.pngMap, "image/png"
	default:
		http.NotFound(w, r)
		return
	}

	kind, err := synoptic.ParseKind(name)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	table, err := h.cache.Get(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := renderer.Render(&buf, table); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Debug("Rendered map",
		logger.String("kind", string(kind)),
		logger.String("format", ext),
		logger.Int("bytes", buf.Len()),
		logger.Duration("duration", time.Since(start)))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) kindParam(w http.ResponseWriter, r *http.Request) (synoptic.Kind, bool) {
	kind, err := synoptic.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", false
	}
	return kind, true
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logger.Int("status", status), logger.Error(err))
	}
	WriteJSON(w, status, errorResponse{Error: err.Error()})
}

// StatusForError returns the HTTP status for an error from the cache or renderers
func StatusForError(err error) int {
	var (
		transportErr *synoptic.TransportError
		retrievalErr *synoptic.RetrievalError
		malformedErr *synoptic.MalformedResponseError
	)
	switch {
	case errors.Is(err, stations.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, maps.ErrEmptyTable):
		return http.StatusNotFound
	case errors.Is(err, synoptic.ErrMissingToken):
		return http.StatusServiceUnavailable
	case errors.As(err, &transportErr), errors.As(err, &retrievalErr), errors.As(err, &malformedErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseBBox(s string) (func(stations.Row) bool, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be minLat,minLon,maxLat,maxLon")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q", p)
		}
		v[i] = f
	}
	return stations.WithinBounds(v[0], v[1], v[2], v[3]), nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
