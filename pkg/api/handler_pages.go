package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blogcast/blogcast/pkg/store"
)

// submitPage renders the submission form.
func (s *Server) submitPage(c *gin.Context) {
	c.HTML(http.StatusOK, "submit.html", nil)
}

// statusPage renders the status view for one job. The page polls the JSON
// endpoint from the browser; the server only seeds it with the record.
func (s *Server) statusPage(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.HTML(http.StatusNotFound, "status.html", gin.H{"NotFound": true})
			return
		}
		writeError(c, err)
		return
	}
	c.HTML(http.StatusOK, "status.html", gin.H{"Job": job})
}
