// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:not_found", "tickets:allocation_failed").
package apierrors

import "net/http"

// Core and ticket-domain error codes, registered at init.
const (
	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"
	CodeInvalidID        = "core:invalid_id"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"

	// Ticket domain
	CodeTicketNotFound   = "tickets:not_found"
	CodeAllocationFailed = "tickets:allocation_failed"
	CodeUnknownRequester = "tickets:unknown_requester"
)

var builtinErrors = []ErrorCode{
	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},

	{Code: CodeTicketNotFound, Message: "Ticket not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeAllocationFailed, Message: "Ticket number allocation failed", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeUnknownRequester, Message: "Requester not found", HTTPStatus: http.StatusBadRequest},
}

func init() {
	for _, e := range builtinErrors {
		Registry.Register(e)
	}
}
