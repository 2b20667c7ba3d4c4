package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"klaxer/internal/domain"
	"klaxer/internal/pipeline"
)

// AlertProcessor runs the processing pipeline for decoded webhook requests.
// Params: service identity, optional token, and raw payload.
// Returns: pipeline outcome or typed failure.
type AlertProcessor interface {
	Authorize(service, token string) error
	Process(ctx context.Context, service string, raw []byte) (pipeline.Outcome, error)
	ProcessDebug(ctx context.Context, service string, raw []byte) (pipeline.Outcome, error)
}

// HTTPHandler serves the inbound webhook endpoint
// POST /alert/{service}/{token}.
// Params: processor, body size limit, and optional logger.
// Returns: HTTP handler for alert ingestion.
type HTTPHandler struct {
	processor   AlertProcessor
	maxBodySize int64
	logger      *slog.Logger
}

// statusBody is the JSON response envelope.
// Params: terminal status and optional error text.
// Returns: outward response document.
type statusBody struct {
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Alert  *domain.Alert `json:"alert,omitempty"`
}

// NewHTTPHandler creates the webhook ingest handler.
// Params: processor, max request body size in bytes, and logger.
// Returns: configured handler.
func NewHTTPHandler(processor AlertProcessor, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{processor: processor, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one incoming alert request.
// The "debug" query flag runs the pure stages only and echoes the routed
// alert without posting anything.
// Params: response writer and request with service/token path values.
// Returns: JSON status body with taxonomy-mapped status code.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeStatus(writer, http.StatusMethodNotAllowed, statusBody{Status: "error", Error: "method not allowed"})
		return
	}

	service := request.PathValue("service")
	token := request.PathValue("token")

	if err := h.processor.Authorize(service, token); err != nil {
		h.writeError(writer, service, err)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeStatus(writer, http.StatusBadRequest, statusBody{Status: "error", Error: "unreadable request body"})
		return
	}

	debug := request.URL.Query().Get("debug") != ""
	var outcome pipeline.Outcome
	if debug {
		outcome, err = h.processor.ProcessDebug(request.Context(), service, body)
	} else {
		outcome, err = h.processor.Process(request.Context(), service, body)
	}
	if err != nil {
		h.writeError(writer, service, err)
		return
	}

	response := statusBody{Status: string(outcome.Status)}
	if debug {
		response.Alert = outcome.Alert
	}
	writeStatus(writer, http.StatusOK, response)
}

// writeError maps one typed pipeline failure to its outward status code.
// Exclusion drops never reach here; they are successful outcomes. Client
// mistakes (bad token, unknown service, bad payload) map to 4xx, operator
// and destination failures to 5xx.
// Params: response writer, service label, and pipeline error.
// Returns: JSON error body written.
func (h *HTTPHandler) writeError(writer http.ResponseWriter, service string, err error) {
	var deliveryErr *domain.DeliveryError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeStatus(writer, http.StatusUnauthorized, statusBody{Status: "error", Error: err.Error()})
	case errors.Is(err, domain.ErrServiceNotConfigured):
		writeStatus(writer, http.StatusBadRequest, statusBody{Status: "error", Error: err.Error()})
	case errors.Is(err, domain.ErrNoRouteFound):
		writeStatus(writer, http.StatusInternalServerError, statusBody{Status: "error", Error: err.Error()})
	case errors.Is(err, domain.ErrSeverityUnset), errors.Is(err, domain.ErrTargetUnset):
		writeStatus(writer, http.StatusInternalServerError, statusBody{Status: "error", Error: err.Error()})
	case errors.Is(err, domain.ErrChannelNotFound), errors.As(err, &deliveryErr):
		writeStatus(writer, http.StatusBadGateway, statusBody{Status: "error", Error: err.Error()})
	default:
		if h.logger != nil {
			h.logger.Warn("alert request rejected", "service", service, "error", err.Error())
		}
		writeStatus(writer, http.StatusBadRequest, statusBody{Status: "error", Error: err.Error()})
	}
}

// writeStatus writes one JSON response with the given code.
// Params: response writer, HTTP status code, and body.
// Returns: encoded body written best-effort.
func writeStatus(writer http.ResponseWriter, code int, body statusBody) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_ = json.NewEncoder(writer).Encode(body)
}
