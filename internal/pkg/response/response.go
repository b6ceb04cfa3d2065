// Package response provides JSON response helpers for gin handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "pagebuilder-backend-go/internal/pkg/errors"
)

// Response represents a standard API response envelope.
type Response struct {
	Data  any `json:"data,omitempty"`
	Error any `json:"error,omitempty"`
}

// JSON writes data with the given status code.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Data: data})
}

// OK writes a 200 OK response.
func OK(c *gin.Context, data any) {
	JSON(c, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(c *gin.Context, data any) {
	JSON(c, http.StatusCreated, data)
}

// Error aborts the request with an error response. Errors that are not
// *APIError are rendered as internal errors.
func Error(c *gin.Context, err error) {
	apiErr := apierrors.AsAPIError(err)
	if apiErr == apierrors.ErrInternal && err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, Response{Error: apiErr})
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, apierrors.ErrBadRequest.WithMessage(message))
}

// Unauthorized writes a 401 Unauthorized error response.
func Unauthorized(c *gin.Context) {
	Error(c, apierrors.ErrUnauthorized)
}

// Forbidden writes a 403 Forbidden error response.
func Forbidden(c *gin.Context) {
	Error(c, apierrors.ErrForbidden)
}
