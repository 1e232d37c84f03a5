// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package states

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStates/pkg/logging"
	"github.com/AleutianAI/AleutianStates/services/states/events"
	"github.com/AleutianAI/AleutianStates/services/states/observability"
	"github.com/AleutianAI/AleutianStates/services/states/telemetry"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// requestIDKey is the gin context key holding the request id.
const requestIDKey = "request_id"

// Handlers contains the HTTP handlers for the State resource.
type Handlers struct {
	resource     *Resource
	logger       *logging.Logger
	metrics      *observability.ResourceMetrics
	maxBodyBytes int64
	hub          *events.Hub
}

// NewHandlers creates handlers over resource. A nil logger logs to stderr;
// nil metrics disables recording.
func NewHandlers(resource *Resource, logger *logging.Logger, metrics *observability.ResourceMetrics) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		resource:     resource,
		logger:       logger,
		metrics:      metrics,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// WithMaxBodyBytes sets the request body limit. Non-positive values keep
// the default.
func (h *Handlers) WithMaxBodyBytes(n int64) *Handlers {
	if n > 0 {
		h.maxBodyBytes = n
	}
	return h
}

// WithEvents enables the {base}/events change feed backed by hub.
func (h *Handlers) WithEvents(hub *events.Hub) *Handlers {
	h.hub = hub
	return h
}

// HandleListStates handles GET {base}/states.
//
// Response:
//
//	200 OK: JSON array of States in insertion order
//	500 Internal Server Error: storage failure
func (h *Handlers) HandleListStates(c *gin.Context) {
	start := time.Now()
	logger := h.requestLogger(c, "HandleListStates")

	list, err := h.resource.List(c.Request.Context())
	if err != nil {
		h.fail(c, logger, observability.OperationList, start, err)
		return
	}

	logger.Debug("States listed", "count", len(list))
	h.metrics.Observe(observability.OperationList, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusOK, list)
}

// HandleGetState handles GET {base}/states/:state_id.
//
// Response:
//
//	200 OK: State
//	404 Not Found: no State with that id
func (h *Handlers) HandleGetState(c *gin.Context) {
	start := time.Now()
	id := c.Param("state_id")
	logger := h.requestLogger(c, "HandleGetState").With("state_id", id)

	s, err := h.resource.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, logger, observability.OperationGet, start, err)
		return
	}

	h.metrics.Observe(observability.OperationGet, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusOK, s)
}

// HandleCreateState handles POST {base}/states.
//
// Description:
//
//	Creates a State from a JSON object body. The body must carry a
//	non-empty string "name"; id and timestamps in the body are ignored.
//
// Response:
//
//	201 Created: the new State
//	400 Bad Request: not JSON, not an object, or missing name
//	413 Request Entity Too Large: body over the configured limit
func (h *Handlers) HandleCreateState(c *gin.Context) {
	start := time.Now()
	logger := h.requestLogger(c, "HandleCreateState")

	body, err := h.readBody(c)
	if err != nil {
		h.fail(c, logger, observability.OperationCreate, start, err)
		return
	}

	s, err := h.resource.Create(c.Request.Context(), c.GetHeader("Content-Type"), body)
	if err != nil {
		h.fail(c, logger, observability.OperationCreate, start, err)
		return
	}

	logger.Info("State created", "state_id", s.ID)
	h.metrics.Observe(observability.OperationCreate, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusCreated, s)
}

// HandleUpdateState handles PUT {base}/states/:state_id.
//
// Response:
//
//	200 OK: the updated State
//	400 Bad Request: not JSON, not an object, or an unusable name
//	404 Not Found: no State with that id
func (h *Handlers) HandleUpdateState(c *gin.Context) {
	start := time.Now()
	id := c.Param("state_id")
	logger := h.requestLogger(c, "HandleUpdateState").With("state_id", id)

	body, err := h.readBody(c)
	if err != nil {
		h.fail(c, logger, observability.OperationUpdate, start, err)
		return
	}

	s, err := h.resource.Update(c.Request.Context(), id, c.GetHeader("Content-Type"), body)
	if err != nil {
		h.fail(c, logger, observability.OperationUpdate, start, err)
		return
	}

	logger.Info("State updated")
	h.metrics.Observe(observability.OperationUpdate, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusOK, s)
}

// HandleDeleteState handles DELETE {base}/states/:state_id.
//
// Response:
//
//	200 OK: {}
//	404 Not Found: no State with that id
func (h *Handlers) HandleDeleteState(c *gin.Context) {
	start := time.Now()
	id := c.Param("state_id")
	logger := h.requestLogger(c, "HandleDeleteState").With("state_id", id)

	if err := h.resource.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, logger, observability.OperationDelete, start, err)
		return
	}

	logger.Info("State deleted")
	h.metrics.Observe(observability.OperationDelete, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusOK, gin.H{})
}

// HandleStatus handles GET {base}/status. Always 200 while serving.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleStats handles GET {base}/stats.
//
// Response:
//
//	200 OK: StatsResponse
//	500 Internal Server Error: storage failure
func (h *Handlers) HandleStats(c *gin.Context) {
	start := time.Now()
	logger := h.requestLogger(c, "HandleStats")

	n, err := h.resource.Count(c.Request.Context())
	if err != nil {
		h.fail(c, logger, observability.OperationStats, start, err)
		return
	}

	h.metrics.Observe(observability.OperationStats, observability.OutcomeSuccess, time.Since(start).Seconds())
	c.JSON(http.StatusOK, StatsResponse{States: n})
}

// readBody reads the request body up to maxBodyBytes.
func (h *Handlers) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, errors.Join(ErrMalformedBody, err)
	}
	return body, nil
}

// requestLogger returns a logger tagged with request and trace ids.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := getOrCreateRequestID(c)
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger.Slog()).With(
		"request_id", requestID,
		"handler", handler,
	)
}

// fail maps err to a response, logs it and records metrics.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, op observability.Operation, start time.Time, err error) {
	status, resp, outcome := errorResponse(err)

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Warn("Request rejected", "error", err, "code", resp.Code)
	}

	h.metrics.Observe(op, outcome, time.Since(start).Seconds())
	h.metrics.RecordError(op, resp.Code)
	c.JSON(status, resp)
}

// errorResponse maps a resource error to its HTTP status and body. The
// cause of a 500 is never returned to the client.
func errorResponse(err error) (int, ErrorResponse, observability.Outcome) {
	switch {
	case errors.Is(err, ErrInvalidContentType):
		return http.StatusBadRequest, ErrorResponse{Error: "Not a JSON", Code: CodeInvalidContentType}, observability.OutcomeClientError
	case errors.Is(err, ErrMalformedBody):
		return http.StatusBadRequest, ErrorResponse{Error: "Not a JSON", Code: CodeMalformedBody}, observability.OutcomeClientError
	case errors.Is(err, ErrMissingRequiredField):
		return http.StatusBadRequest, ErrorResponse{Error: "Missing name", Code: CodeMissingField}, observability.OutcomeClientError
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large", Code: CodeBodyTooLarge}, observability.OutcomeClientError
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Not found", Code: CodeNotFound}, observability.OutcomeNotFound
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: CodeInternal}, observability.OutcomeError
	}
}

// getOrCreateRequestID returns the request id set by middleware, the
// client's X-Request-ID, or a new UUID, and echoes it in the response.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
