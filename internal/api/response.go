// Package api provides HTTP handlers and routing for the wait/notify REST API.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"waitnotify-go/internal/domain"
)

// Envelope wraps every response body. RequestID echoes the X-Request-ID
// assigned by the request id middleware.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDuplicateResponse = "DUPLICATE_RESPONSE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
)

// WaitCreated is the body of a registered wait.
type WaitCreated struct {
	ID string `json:"id"`
}

// ResponseAccepted is the body of a recorded completion.
type ResponseAccepted struct {
	NotificationID string `json:"notification_id"`
}

func reply(c *fiber.Ctx, status int, data any, apiErr *APIError) error {
	env := Envelope{Success: apiErr == nil, Data: data, Error: apiErr}
	if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		env.RequestID = rid
	}
	return c.Status(status).JSON(env)
}

// Success sends a 200 response with the given data.
func Success(c *fiber.Ctx, data any) error {
	return reply(c, fiber.StatusOK, data, nil)
}

// Created sends a 201 response for a registered wait.
func Created(c *fiber.Ctx, body WaitCreated) error {
	return reply(c, fiber.StatusCreated, body, nil)
}

// Accepted sends a 202 response for a recorded completion. Joins waiting
// on it resolve asynchronously.
func Accepted(c *fiber.Ctx, body ResponseAccepted) error {
	return reply(c, fiber.StatusAccepted, body, nil)
}

// Error sends an error response with the given status code.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return reply(c, status, nil, &APIError{Code: code, Message: message})
}

// BadRequest sends a 400 for a body that could not be parsed.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationError sends a 400 for a request the engine rejected.
func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeValidationFailed, message)
}

// InternalError sends a 500.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrCodeInternalError, message)
}

// classify maps engine errors to a status and code. Anything unknown is a 500.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrWaitInstanceNotFound),
		errors.Is(err, domain.ErrResponseNotFound):
		return fiber.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrResponseExists):
		return fiber.StatusConflict, ErrCodeDuplicateResponse
	case errors.Is(err, domain.ErrNoCorrelationIDs),
		errors.Is(err, domain.ErrEmptyCorrelationID),
		errors.Is(err, domain.ErrEmptyCallbackName),
		errors.Is(err, domain.ErrUnknownCallback),
		errors.Is(err, domain.ErrInvalidCallbackArgs):
		return fiber.StatusBadRequest, ErrCodeValidationFailed
	}
	return fiber.StatusInternalServerError, ErrCodeInternalError
}

// engineError replies with the mapped status, or with a generic 500
// carrying fallback when the error is not a known engine error.
func engineError(c *fiber.Ctx, err error, fallback string) error {
	status, code := classify(err)
	if status == fiber.StatusInternalServerError {
		return InternalError(c, fallback)
	}
	return Error(c, status, code, err.Error())
}
