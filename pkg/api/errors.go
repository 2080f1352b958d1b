package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blogcast/blogcast/pkg/admission"
	"github.com/blogcast/blogcast/pkg/store"
)

// refusalStatus maps admission refusal categories onto HTTP status codes.
var refusalStatus = map[admission.Category]int{
	admission.CategoryRateLimited:      http.StatusTooManyRequests,
	admission.CategoryQueueFull:        http.StatusServiceUnavailable,
	admission.CategoryQualityTooLow:    http.StatusBadRequest,
	admission.CategoryProbeUnavailable: http.StatusBadGateway,
	admission.CategoryInvalidURL:       http.StatusBadRequest,
}

// writeError translates a domain error into an HTTP response. Admission
// refusals get their category-specific codes; store lookups map NotFound
// to 404; everything else is a 500 with a generic body and a correlated
// log entry.
func writeError(c *gin.Context, err error) {
	if refusal, ok := admission.AsRefusal(err); ok {
		status, known := refusalStatus[refusal.Category]
		if !known {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": refusal.Reason, "category": string(refusal.Category)})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	slog.Error("Unhandled API error",
		"error", err,
		"path", c.Request.URL.Path,
		"request_id", c.GetString("request_id"))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
