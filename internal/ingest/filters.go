package ingest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"klaxer/internal/domain"
	"klaxer/internal/session"
)

// FiltersHandler exposes the session snooze list over HTTP.
// Routes: POST /filters adds one snooze, GET /filters lists active ones,
// DELETE /filters/{id} removes one, DELETE /filters clears the list.
// Params: shared session filter state.
// Returns: HTTP handlers for the filters API.
type FiltersHandler struct {
	filters *session.Filters
}

// NewFiltersHandler creates the session filters handler.
// Params: shared filter list owned by the service.
// Returns: configured handler.
func NewFiltersHandler(filters *session.Filters) *FiltersHandler {
	return &FiltersHandler{filters: filters}
}

// addFilterRequest is the POST /filters body.
// Params: field name, contains needle, and optional ttl in seconds.
// Returns: decoded snooze request.
type addFilterRequest struct {
	Field    string `json:"field"`
	Contains string `json:"contains"`
	TTLSec   int    `json:"ttl_sec"`
}

// Register attaches filter routes to one mux.
// Params: target request multiplexer.
// Returns: routes registered.
func (h *FiltersHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /filters", h.add)
	mux.HandleFunc("GET /filters", h.list)
	mux.HandleFunc("DELETE /filters/{id}", h.remove)
	mux.HandleFunc("DELETE /filters", h.clear)
}

// add appends one snooze entry.
// Params: response writer and request with JSON body.
// Returns: created filter as JSON or validation error.
func (h *FiltersHandler) add(writer http.ResponseWriter, request *http.Request) {
	var body addFilterRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid filter body", http.StatusBadRequest)
		return
	}
	field, err := domain.ParseField(body.Field)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Contains) == "" {
		http.Error(writer, "contains must not be empty", http.StatusBadRequest)
		return
	}

	entry := h.filters.Add(field, body.Contains, time.Duration(body.TTLSec)*time.Second)
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(writer).Encode(entry)
}

// list returns all active snooze entries.
// Params: response writer and request.
// Returns: JSON array of filters.
func (h *FiltersHandler) list(writer http.ResponseWriter, _ *http.Request) {
	entries := h.filters.List()
	if entries == nil {
		entries = []session.Filter{}
	}
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(entries)
}

// remove deletes one snooze entry by ID.
// Params: response writer and request with id path value.
// Returns: 204 on removal, 404 when the ID is unknown.
func (h *FiltersHandler) remove(writer http.ResponseWriter, request *http.Request) {
	if !h.filters.Remove(request.PathValue("id")) {
		http.Error(writer, "filter not found", http.StatusNotFound)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// clear drops all snooze entries.
// Params: response writer and request.
// Returns: 204 always.
func (h *FiltersHandler) clear(writer http.ResponseWriter, _ *http.Request) {
	h.filters.Clear()
	writer.WriteHeader(http.StatusNoContent)
}
