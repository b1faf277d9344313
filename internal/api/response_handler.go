package api

import (
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"waitnotify-go/internal/engine"
)

// ResponseHandler handles HTTP requests for completions.
type ResponseHandler struct {
	service *engine.Service
	logger  *slog.Logger
}

// NewResponseHandler creates a new response handler.
func NewResponseHandler(service *engine.Service, logger *slog.Logger) *ResponseHandler {
	return &ResponseHandler{
		service: service,
		logger:  logger,
	}
}

// NotifyRequest is the body of POST /v1/responses/:correlationId.
type NotifyRequest struct {
	Payload json.RawMessage `json:"payload"`
	Error   bool            `json:"error"`
}

// Notify handles POST /v1/responses/:correlationId
// Records the completion and returns 202 Accepted. Joins waiting on the id
// are resolved asynchronously.
func (h *ResponseHandler) Notify(c *fiber.Ctx) error {
	correlationID := c.Params("correlationId")

	var req NotifyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Debug("failed to parse response body", "error", err)
			return BadRequest(c, "invalid request body")
		}
	}

	notify := h.service.Notify
	if req.Error {
		notify = h.service.NotifyError
	}

	id, err := notify(c.Context(), correlationID, req.Payload)
	if err != nil {
		if status, _ := classify(err); status == fiber.StatusInternalServerError {
			h.logger.Error("failed to record response", "error", err, "correlationID", correlationID)
		}
		return engineError(c, err, "failed to record response")
	}

	return Accepted(c, ResponseAccepted{NotificationID: id})
}

// GetByCorrelationID handles GET /v1/responses/:correlationId
func (h *ResponseHandler) GetByCorrelationID(c *fiber.Ctx) error {
	correlationID := c.Params("correlationId")

	response, err := h.service.GetResponse(c.Context(), correlationID)
	if err != nil {
		if status, _ := classify(err); status == fiber.StatusInternalServerError {
			h.logger.Error("failed to get response", "error", err, "correlationID", correlationID)
		}
		return engineError(c, err, "failed to get response")
	}

	return Success(c, response)
}
