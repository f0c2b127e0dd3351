// Package httpapi is the HTTP API (§6): gin handlers over the engine,
// queue service, and runtime registry. Grounded on the teacher's
// internal/handlers + internal/server/router.go wiring (route groups,
// handler structs holding services, a shared RespondOK/RespondError
// envelope, otelgin instrumentation on the router).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noetl/core/internal/platform/apierr"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondErr classifies err through apierr (falling back to internal
// server error for unclassified errors) and writes the matching status.
func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusInternalServerError, errorEnvelope{Error: apiError{Message: "unknown error"}})
		return
	}
	e := apierr.As(err)
	c.JSON(e.Status, errorEnvelope{Error: apiError{Message: e.Error(), Code: e.Code}})
}

func respondValidation(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorEnvelope{Error: apiError{Message: msg, Code: "validation_error"}})
}
