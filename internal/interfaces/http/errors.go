package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Error codes carried in the "error" field of failure responses
const (
	CodeValidation    = "validation_error"
	CodeUnauthorized  = "authorization_error"
	CodeInvalidState  = "invalid_state"
	CodeNotFound      = "not_found"
	CodeUnauthentic   = "unauthenticated"
	CodeRateLimited   = "rate_limited"
	CodeInternalError = "internal_error"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a classified lifecycle error to an HTTP status and error code
func statusFor(err error) (int, string) {
	switch workflow.KindOf(err) {
	case workflow.ErrValidation:
		return http.StatusBadRequest, CodeValidation
	case workflow.ErrInvalidState:
		return http.StatusBadRequest, CodeInvalidState
	case workflow.ErrUnauthorized:
		return http.StatusForbidden, CodeUnauthorized
	case workflow.ErrNotFound:
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// respondError writes err as a JSON failure. Unclassified errors are logged and hidden from the client.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status, code := statusFor(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "path", c.Request.URL.Path, "error", err)
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// respondNotFoundAsBadRequest keeps the 400 the special review lookup has always answered with
func (h *Handlers) respondNotFoundAsBadRequest(c *gin.Context, op string, err error) {
	if errors.Is(err, workflow.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: CodeNotFound, Message: err.Error()})
		return
	}
	h.respondError(c, op, err)
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	err := workflow.Validation("", format, args...)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: CodeValidation, Message: err.Error()})
}
