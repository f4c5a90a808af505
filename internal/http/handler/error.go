package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"docingest/internal/http/middleware"
	"docingest/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromCtx(c),
	})
}

type ingestFailure struct {
	status  int
	message string
}

var ingestFailures = map[string]ingestFailure{
	"UNAUTHORIZED":         {fiber.StatusUnauthorized, "unauthorized"},
	"IDENTITY_UNAVAILABLE": {fiber.StatusServiceUnavailable, "identity service unavailable"},
	"INVALID_REQUEST":      {fiber.StatusBadRequest, "exactly one file named 'file' is required"},
	"STORAGE_CONFLICT":     {fiber.StatusConflict, "storage path conflict, please retry"},
	"STORAGE_FAILURE":      {fiber.StatusBadGateway, "failed to store document"},
	"EMBEDDING_FAILURE":    {fiber.StatusBadGateway, "failed to compute document embedding"},
	"ORPHANED_OBJECT":      {fiber.StatusInternalServerError, "document stored but metadata could not be recorded"},
}

// writeIngestError maps a pipeline failure to its status and fixed message.
// The cause itself has already been logged by the service.
func writeIngestError(c *fiber.Ctx, err error) error {
	code := service.OutcomeCode(err)
	if f, ok := ingestFailures[code]; ok {
		if errors.Is(err, service.ErrInvalidRequest) {
			var ie *service.IngestError
			if errors.As(err, &ie) && ie.Err != nil {
				return writeError(c, f.status, code, ie.Err.Error())
			}
		}
		return writeError(c, f.status, code, f.message)
	}
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "unauthorized")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "upload exceeds the size limit")
		case fiber.StatusServiceUnavailable:
			return writeError(c, status, "IDENTITY_UNAVAILABLE", "identity service unavailable")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
