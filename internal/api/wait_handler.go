package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/engine"
)

// WaitHandler handles HTTP requests for wait registration and inspection.
type WaitHandler struct {
	service *engine.Service
	logger  *slog.Logger
}

// NewWaitHandler creates a new wait handler.
func NewWaitHandler(service *engine.Service, logger *slog.Logger) *WaitHandler {
	return &WaitHandler{
		service: service,
		logger:  logger,
	}
}

// CreateWaitRequest is the body of POST /v1/waits.
type CreateWaitRequest struct {
	Callback       domain.CallbackSpec `json:"callback"`
	CorrelationIDs []string            `json:"correlation_ids"`
	TimeoutMS      int64               `json:"timeout_ms"`
}

// Create handles POST /v1/waits
// Registers a join and returns its id. Completion is reported through the
// callback, never through this request.
func (h *WaitHandler) Create(c *fiber.Ctx) error {
	var req CreateWaitRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse wait body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if req.TimeoutMS < 0 {
		return ValidationError(c, "timeout_ms must not be negative")
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	id, err := h.service.WaitForAll(c.Context(), timeout, req.Callback, req.CorrelationIDs...)
	if err != nil {
		h.logFailure("failed to register wait", err)
		return engineError(c, err, "failed to register wait")
	}

	return Created(c, WaitCreated{ID: id})
}

// GetByID handles GET /v1/waits/:id
func (h *WaitHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")

	view, err := h.service.GetWait(c.Context(), id)
	if err != nil {
		h.logFailure("failed to get wait instance", err, "id", id)
		return engineError(c, err, "failed to get wait instance")
	}

	return Success(c, view)
}

// ListFailures handles GET /v1/waits/:id/failures
func (h *WaitHandler) ListFailures(c *fiber.Ctx) error {
	id := c.Params("id")

	failures, err := h.service.ListFailures(c.Context(), id)
	if err != nil {
		h.logFailure("failed to list callback failures", err, "id", id)
		return engineError(c, err, "failed to list callback failures")
	}

	if failures == nil {
		failures = []*domain.CallbackFailure{}
	}
	return Success(c, failures)
}

// logFailure logs infrastructure errors only; caller mistakes are answered
// with a 4xx and not logged.
func (h *WaitHandler) logFailure(msg string, err error, attrs ...any) {
	if status, _ := classify(err); status == fiber.StatusInternalServerError {
		h.logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}
