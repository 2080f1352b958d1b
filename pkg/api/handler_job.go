package api

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/store"
)

// submitRequest is the JSON body for POST /api/jobs. Form submissions use
// a url= field instead.
type submitRequest struct {
	URL string `json:"url" form:"url"`
}

// submitJob handles POST /api/jobs: admission then record creation.
func (s *Server) submitJob(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url field is required"})
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url field is required"})
		return
	}

	ip := clientIP(c)
	job, err := s.admission.Admit(c.Request.Context(), req.URL, ip)
	if err != nil {
		observeSubmission(err)
		writeError(c, err)
		return
	}
	observeSubmission(nil)

	c.JSON(http.StatusCreated, job)
}

// getJob handles GET /api/jobs/:id: the full record, with empty store
// dates already normalised to absent by the client.
func (s *Server) getJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancelJob handles POST /api/jobs/:id/cancel. Only pending and
// processing jobs are cancellable. The endpoint writes the cancelled
// status and returns without waiting for the worker; when this process
// owns the running pipeline the in-process cancel fires immediately.
func (s *Server) cancelJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !job.Status.IsCancellable() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job is not cancellable in status " + string(job.Status),
		})
		return
	}

	_, err = s.store.UpdateJob(c.Request.Context(), id, store.Patch{
		"status":       models.StatusCancelled,
		"completed_at": store.FormatTime(s.clock.Now()),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if s.pool != nil && s.pool.CancelJob(id) {
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "interrupted": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// deleteJob handles DELETE /api/jobs/:id: the record goes first, then the
// artifact directory best-effort.
func (s *Server) deleteJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.store.DeleteJob(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	jobDir := filepath.Join(s.dataRoot, job.ArtifactDir())
	if err := os.RemoveAll(jobDir); err != nil {
		// Logged, not surfaced: the record is gone.
		slog.Warn("Failed to remove artifacts of deleted job", "job_id", id, "dir", jobDir, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
