package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/validation"
	"evalgo.org/flightdeck/models"
)

// StatusAuthRequired is returned when a target needs JMX credentials that
// no stored credential provides. It is kept apart from 401, which concerns
// callers of this API.
const StatusAuthRequired = 427

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

// FromError maps a domain error onto an APIError.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *validation.Error
	if errors.As(err, &verr) {
		fields := make(map[string]string, len(verr.Errors))
		for _, fe := range verr.Errors {
			fields[fe.Field] = fe.Message
		}
		return ValidationError("Validation failed", fields)
	}

	switch {
	case errors.Is(err, models.ErrInvalid), matchexpr.IsInvalid(err):
		return BadRequestError("Bad request", err.Error())
	case errors.Is(err, models.ErrConflict):
		return ConflictError("Conflict", err.Error())
	case errors.Is(err, models.ErrNotFound):
		return NewAPIError(http.StatusNotFound, "Resource not found", err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		return NewAPIError(http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, recordings.ErrAuthRequired):
		return NewAPIError(StatusAuthRequired, "Target authentication required", err.Error())
	case errors.Is(err, recordings.ErrTargetUnreachable):
		return NewAPIError(http.StatusBadGateway, "Target unreachable", err.Error())
	}
	return InternalError("Internal server error", err.Error())
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	if he, ok := err.(*echo.HTTPError); ok {
		apiErr = &APIError{
			Code:    he.Code,
			Message: getHTTPMessage(he.Code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else {
		// copy so the debug redaction below never touches a shared value
		mapped := *FromError(err)
		apiErr = &mapped
	}

	// Don't expose internal errors in production
	if apiErr.Code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(apiErr.Code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:           "Bad request",
		http.StatusUnauthorized:         "Unauthorized",
		http.StatusForbidden:            "Forbidden",
		http.StatusNotFound:             "Resource not found",
		http.StatusMethodNotAllowed:     "Method not allowed",
		http.StatusConflict:             "Conflict",
		http.StatusUnsupportedMediaType: "Unsupported media type",
		http.StatusTooManyRequests:      "Too many requests",
		StatusAuthRequired:              "Target authentication required",
		http.StatusInternalServerError:  "Internal server error",
		http.StatusBadGateway:           "Bad gateway",
		http.StatusServiceUnavailable:   "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
