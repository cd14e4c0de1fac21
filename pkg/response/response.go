// Package response renders the JSON envelope used by every HTTP endpoint:
// {"success": bool, "data": ..., "error": {code, message}, "meta": {...}}.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callcore/pkg/errors"
)

// Response is the envelope shared by success and error payloads.
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func meta(c *gin.Context) Meta {
	m := Meta{Timestamp: time.Now().UTC()}
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			m.RequestID = s
		}
	}
	return m
}

// Success writes a successful envelope with the given status and payload.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta(c)})
}

// Error writes a failed envelope with an explicit status and error code.
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error:   &ErrorDetail{Code: errorCode, Message: errorMessage},
		Meta:    meta(c),
	})
}

// AppError maps an application error to its HTTP status and code. Unknown
// errors come back as 500 INTERNAL_ERROR.
func AppError(c *gin.Context, err error) {
	appErr := errors.GetAppError(err)
	Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}

func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "AUTH_FAILURE", message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, "NOT_AUTHORIZED", message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
