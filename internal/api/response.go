// internal/api/response.go
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/storyloom/storyloom/internal/errors"
)

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the standard error payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper builds envelope responses.
type ResponseHelper struct{}

func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success writes a 200 response.
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.requestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusOK, response)
}

// Created writes a 201 response.
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.requestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusCreated, response)
}

// Error writes an error response with the given status.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiError.Details = details[0]
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.requestID(c),
	})
}

func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, "BAD_REQUEST", message, details...)
}

func (rh *ResponseHelper) NotFound(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusNotFound, "NOT_FOUND", message, details...)
}

func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, "CONFLICT", message, details...)
}

func (rh *ResponseHelper) TooManyRequests(c *gin.Context, message string) {
	rh.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", message)
}

func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, details...)
}

// FromAppError maps a service error onto the right HTTP status. Wrapped
// cause text stays server-side; only the service message crosses the wire.
func (rh *ResponseHelper) FromAppError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		rh.InternalError(c, "unexpected error")
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		rh.Error(c, http.StatusBadRequest, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, http.StatusNotFound, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeConflict:
		rh.Error(c, http.StatusConflict, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeTimeout:
		rh.Error(c, http.StatusGatewayTimeout, appErr.Code, appErr.Message)
	case apperrors.ErrorTypeUnsupported:
		rh.Error(c, http.StatusUnprocessableEntity, appErr.Code, appErr.Message)
	default:
		rh.Error(c, http.StatusInternalServerError, appErr.Code, appErr.Message)
	}
}

// FileResponse forces a download of generated content.
func (rh *ResponseHelper) FileResponse(c *gin.Context, content, filename, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.String(http.StatusOK, content)
}

func (rh *ResponseHelper) requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
