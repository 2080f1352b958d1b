package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blogcast/blogcast/pkg/models"
)

// downloadVideo serves the final artifact for GET /api/jobs/:id/download
// and /api/jobs/:id/video. It honours a single bytes=start-end range; a
// missing or unparseable Range header yields the full file.
func (s *Server) downloadVideo(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job is not completed (status " + string(job.Status) + ")",
		})
		return
	}

	videoPath, err := s.resolveArtifact(job.VideoPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video file not found"})
		return
	}
	file, err := os.Open(videoPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video file not found"})
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(c, err)
		return
	}
	size := info.Size()

	contentType := mime.TypeByExtension(filepath.Ext(videoPath))
	if contentType == "" {
		contentType = "video/mp4"
	}
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentType)

	start, end, outcome := parseRange(c.GetHeader("Range"), size)
	switch outcome {
	case rangeNone:
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		io.Copy(c.Writer, file) //nolint:errcheck // client disconnects are expected
	case rangeUnsatisfiable:
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
	case rangePartial:
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		c.Header("Content-Length", strconv.FormatInt(end-start+1, 10))
		c.Status(http.StatusPartialContent)
		io.CopyN(c.Writer, file, end-start+1) //nolint:errcheck
	}
}

// resolveArtifact maps a record's relative video path onto the data root,
// rejecting paths that escape it.
func (s *Server) resolveArtifact(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("no video path on record")
	}
	abs := filepath.Join(s.dataRoot, filepath.FromSlash(rel))
	root := filepath.Clean(s.dataRoot) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(abs), root) {
		return "", fmt.Errorf("video path escapes data root")
	}
	return abs, nil
}

type rangeOutcome int

const (
	// rangeNone: serve the whole file with 200.
	rangeNone rangeOutcome = iota
	// rangePartial: serve [start, end] with 206.
	rangePartial
	// rangeUnsatisfiable: 416 with Content-Range: bytes */size.
	rangeUnsatisfiable
)

// parseRange interprets a single-range bytes=<start>-<end> header.
// end is clamped to size-1; an open end (bytes=<start>-) runs to EOF; a
// suffix range (bytes=-<n>) serves the last n bytes. Anything the parser
// cannot understand degrades to the full-response outcome.
func parseRange(header string, size int64) (start, end int64, outcome rangeOutcome) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, rangeNone
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, rangeNone
	}

	if startStr == "" {
		// Suffix range: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, rangeNone
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, rangePartial
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, rangeNone
	}
	if start > size-1 {
		return 0, 0, rangeUnsatisfiable
	}

	end = size - 1
	if endStr != "" {
		parsed, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || parsed < start {
			return 0, 0, rangeNone
		}
		if parsed < end {
			end = parsed
		}
	}
	return start, end, rangePartial
}
